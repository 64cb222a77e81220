package tracking

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// playSyncDelay is the wait between a paused-to-playing transition and
	// the one-shot "play" report.
	playSyncDelay = 1 * time.Second
	// seekSyncInterval is the cadence of periodic "seek" reports while
	// playback runs.
	seekSyncInterval = 5 * time.Second
	// sessionRetries is the number of extra session-init attempts after
	// the first failure.
	sessionRetries = 3
	// sessionBackoffBase doubles on every session-init retry.
	sessionBackoffBase = 500 * time.Millisecond
)

// Service is the tracking backend as the scheduler sees it.
type Service interface {
	CreateSession(ctx context.Context, userID, audiobookID, chapterID string) error
	SyncPlayback(ctx context.Context, event models.SyncEvent) error
}

// StateAccessor reports the live playback location. The scheduler reads it
// at timer fire time rather than capturing values when a timer is armed:
// the user may seek or switch chapters while a timer is pending.
type StateAccessor interface {
	NowPlaying() (audiobookID, chapterID string, position int, playing bool)
}

// Scheduler reports playback state to the tracking service, best-effort.
// Every call is fire-and-forget: errors are logged and swallowed, and
// nothing here may ever block or fail playback.
//
// Policy: one "play" report fires a fixed delay after each
// paused-to-playing transition; "seek" reports repeat on a timer while
// playing; one "pause" report fires immediately on pause. All timers are
// cancelled when playback stops or the scheduler shuts down.
type Scheduler struct {
	mutex  sync.Mutex
	logger logger.Logger
	svc    Service
	state  StateAccessor
	userID string

	// timers of the current playing stretch; nil while paused.
	stopTimers chan struct{}

	playDelay    time.Duration
	seekInterval time.Duration
	backoffBase  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a sync scheduler for one listener.
func NewScheduler(log logger.Logger, svc Service, state StateAccessor, userID string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:       log,
		svc:          svc,
		state:        state,
		userID:       userID,
		playDelay:    playSyncDelay,
		seekInterval: seekSyncInterval,
		backoffBase:  sessionBackoffBase,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// OnChapterLoaded initializes a tracking session for the freshly opened
// chapter. Called once per "player opened for this chapter" transition,
// not on every tick.
func (s *Scheduler) OnChapterLoaded(audiobookID, chapterID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.initializeSession(audiobookID, chapterID)
	}()
}

// initializeSession registers the session, retrying only while the server
// reports the resource as not provisioned yet. Anything else, or running
// out of attempts, is logged and swallowed.
func (s *Scheduler) initializeSession(audiobookID, chapterID string) {
	for attempt := 0; ; attempt++ {
		err := s.svc.CreateSession(s.ctx, s.userID, audiobookID, chapterID)
		if err == nil {
			s.logger.Debugf("Tracking session initialized for chapter %s", chapterID)
			return
		}

		trackingErr := &models.TrackingError{Op: "session init", Err: err}
		if !errors.Is(err, models.ErrNotFound) || attempt >= sessionRetries {
			s.logger.Warnf("%v (giving up after %d attempts)", trackingErr, attempt+1)
			return
		}

		backoff := s.backoffBase << attempt
		s.logger.Debugf("%v, retrying in %v", trackingErr, backoff)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// OnPlayStarted arms the delayed "play" report and the periodic "seek"
// reports for the new playing stretch.
func (s *Scheduler) OnPlayStarted() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopTimers != nil {
		return // already running
	}
	stop := make(chan struct{})
	s.stopTimers = stop

	s.wg.Add(1)
	go s.runTimers(stop)
}

// OnPaused cancels the playing-stretch timers and fires one immediate
// "pause" report.
func (s *Scheduler) OnPaused() {
	s.stopTimersNow()
	s.emit(models.ActionPause, false)
}

// OnChapterEnded is the advancer's concern; the scheduler's timers keep
// running into the next chapter or are cancelled by the coming pause.
func (s *Scheduler) OnChapterEnded(audiobookID, chapterID string) {}

// OnPlaybackError stops the timers: playback has degraded to paused.
func (s *Scheduler) OnPlaybackError(err error) {
	s.stopTimersNow()
}

func (s *Scheduler) stopTimersNow() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopTimers != nil {
		close(s.stopTimers)
		s.stopTimers = nil
	}
}

// runTimers owns the play-delay timer and the seek ticker for one playing
// stretch.
func (s *Scheduler) runTimers(stop chan struct{}) {
	defer s.wg.Done()

	playTimer := time.NewTimer(s.playDelay)
	defer playTimer.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-stop:
		return
	case <-playTimer.C:
		s.emit(models.ActionPlay, true)
	}

	// Periodic reports start counting from the play report.
	ticker := time.NewTicker(s.seekInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.emit(models.ActionSeek, true)
		}
	}
}

// emit sends one report built from the live playback state. When
// requirePlaying is set, a report that finds playback stopped is skipped;
// the pause report goes out regardless.
func (s *Scheduler) emit(action models.Action, requirePlaying bool) {
	audiobookID, chapterID, position, playing := s.state.NowPlaying()
	if chapterID == "" {
		return
	}
	if requirePlaying && !playing {
		return
	}

	event := models.SyncEvent{
		AudiobookID: audiobookID,
		ChapterID:   chapterID,
		Action:      action,
		Position:    position,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.svc.SyncPlayback(s.ctx, event); err != nil {
			s.logger.Warnf("%v", &models.TrackingError{Op: string(action) + " sync", Err: err})
			return
		}
		s.logger.Debugf("Synced %s at %ds in chapter %s", action, position, chapterID)
	}()
}

// Stop cancels all timers and in-flight reports and waits them out.
func (s *Scheduler) Stop() {
	s.stopTimersNow()
	s.cancel()
	s.wg.Wait()
}
