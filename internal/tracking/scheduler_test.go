package tracking

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records tracking calls and serves scripted session results.
type fakeService struct {
	mu           sync.Mutex
	sessionCalls int
	sessionErrs  []error // consumed per call; nil entries mean success
	events       []models.SyncEvent
}

func (f *fakeService) CreateSession(ctx context.Context, userID, audiobookID, chapterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.sessionCalls
	f.sessionCalls++
	if call < len(f.sessionErrs) {
		return f.sessionErrs[call]
	}
	return nil
}

func (f *fakeService) SyncPlayback(ctx context.Context, event models.SyncEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeService) snapshot() []models.SyncEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SyncEvent(nil), f.events...)
}

func (f *fakeService) sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionCalls
}

// liveState is a mutable StateAccessor standing in for the engine.
type liveState struct {
	mu          sync.Mutex
	audiobookID string
	chapterID   string
	position    int
	playing     bool
}

func (s *liveState) NowPlaying() (string, string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audiobookID, s.chapterID, s.position, s.playing
}

func (s *liveState) set(chapterID string, position int, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapterID = chapterID
	s.position = position
	s.playing = playing
}

func newTestScheduler(svc Service, state StateAccessor) *Scheduler {
	s := NewScheduler(logger.Nop{}, svc, state, "u1")
	s.playDelay = 20 * time.Millisecond
	s.seekInterval = 50 * time.Millisecond
	s.backoffBase = 10 * time.Millisecond
	return s
}

func TestInitializeSession_RetriesOnlyOnNotFound(t *testing.T) {
	svc := &fakeService{sessionErrs: []error{
		fmt.Errorf("wrap: %w", models.ErrNotFound),
		fmt.Errorf("wrap: %w", models.ErrNotFound),
		nil,
	}}
	state := &liveState{audiobookID: "book1"}
	s := newTestScheduler(svc, state)

	s.OnChapterLoaded("book1", "ch1")
	require.Eventually(t, func() bool { return svc.sessions() == 3 },
		time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, 3, svc.sessions(), "no attempts after success")
}

func TestInitializeSession_GivesUpOnOtherErrors(t *testing.T) {
	svc := &fakeService{sessionErrs: []error{fmt.Errorf("boom")}}
	state := &liveState{audiobookID: "book1"}
	s := newTestScheduler(svc, state)

	s.OnChapterLoaded("book1", "ch1")
	s.Stop()
	assert.Equal(t, 1, svc.sessions(), "non-retryable failures get one attempt")
}

func TestInitializeSession_ExhaustsRetries(t *testing.T) {
	notFound := fmt.Errorf("wrap: %w", models.ErrNotFound)
	svc := &fakeService{sessionErrs: []error{notFound, notFound, notFound, notFound, notFound}}
	state := &liveState{audiobookID: "book1"}
	s := newTestScheduler(svc, state)

	s.OnChapterLoaded("book1", "ch1")
	require.Eventually(t, func() bool { return svc.sessions() == 4 },
		time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, 4, svc.sessions(), "one initial attempt plus three retries")
}

// TestTimerPolicy_PlayThenPeriodicSeeks verifies the cadence: one delayed
// play report after the transition, then periodic seek reports, then one
// immediate pause report and silence.
func TestTimerPolicy_PlayThenPeriodicSeeks(t *testing.T) {
	svc := &fakeService{}
	state := &liveState{audiobookID: "book1"}
	state.set("ch1", 0, true)
	s := newTestScheduler(svc, state)
	defer s.Stop()

	s.OnPlayStarted()

	require.Eventually(t, func() bool {
		events := svc.snapshot()
		return len(events) >= 3
	}, time.Second, 5*time.Millisecond)

	s.OnPaused()
	require.Eventually(t, func() bool {
		for _, ev := range svc.snapshot() {
			if ev.Action == models.ActionPause {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	events := svc.snapshot()
	assert.Equal(t, models.ActionPlay, events[0].Action, "first report is the delayed play")
	assert.Equal(t, models.ActionSeek, events[1].Action)
	assert.Equal(t, models.ActionSeek, events[2].Action)

	// Timers are cancelled: no reports arrive after the pause.
	countAfterPause := len(svc.snapshot())
	time.Sleep(3 * s.seekInterval)
	assert.Equal(t, countAfterPause, len(svc.snapshot()))
}

// TestTimers_ReadLiveState verifies that a pending timer picks up seeks
// and chapter switches that happen after it was armed.
func TestTimers_ReadLiveState(t *testing.T) {
	svc := &fakeService{}
	state := &liveState{audiobookID: "book1"}
	state.set("ch1", 5, true)
	s := newTestScheduler(svc, state)
	defer s.Stop()

	s.OnPlayStarted()
	// Switch chapters before the play timer fires.
	state.set("ch2", 99, true)

	require.Eventually(t, func() bool { return len(svc.snapshot()) >= 1 },
		time.Second, 5*time.Millisecond)

	events := svc.snapshot()
	assert.Equal(t, "ch2", events[0].ChapterID)
	assert.Equal(t, 99, events[0].Position)
}

func TestSeekReports_SkippedWhilePaused(t *testing.T) {
	svc := &fakeService{}
	state := &liveState{audiobookID: "book1"}
	state.set("ch1", 0, false) // playback already stopped when timers fire
	s := newTestScheduler(svc, state)
	defer s.Stop()

	s.OnPlayStarted()
	time.Sleep(4 * s.seekInterval)
	assert.Empty(t, svc.snapshot(), "reports that find playback stopped are skipped")
}

func TestOnPlaybackError_StopsTimers(t *testing.T) {
	svc := &fakeService{}
	state := &liveState{audiobookID: "book1"}
	state.set("ch1", 0, true)
	s := newTestScheduler(svc, state)
	defer s.Stop()

	s.OnPlayStarted()
	s.OnPlaybackError(fmt.Errorf("boom"))

	time.Sleep(4 * s.seekInterval)
	assert.Empty(t, svc.snapshot(), "no reports after playback degraded")
}
