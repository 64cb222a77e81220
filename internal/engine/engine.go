package engine

import (
	"abstream/internal/logger"
	"abstream/internal/media"
	"abstream/internal/models"
	"context"
	"sync"
	"time"
)

// State is the playback engine's lifecycle state for the current chapter.
type State int

const (
	// StateIdle means no segment is loaded or playback failed and is
	// waiting on a manual retry. The engine always degrades to Idle
	// rather than aborting.
	StateIdle State = iota
	// StateLoading means a segment fetch is in flight.
	StateLoading
	// StateReady means the current segment is loaded in the media engine.
	StateReady
	// StateSeeking means a seek is resolving into an uncached segment.
	StateSeeking
	// StateEnded means the chapter played to completion.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSeeking:
		return "seeking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

const (
	// prefetchThreshold is the fraction of the current segment after which
	// the next segment is prefetched.
	prefetchThreshold = 0.8
	// prefetchCooldown spaces out prefetch triggers so a burst of progress
	// ticks arms at most one prefetch.
	prefetchCooldown = 2 * time.Second
)

// Cache is the segment cache as the engine sees it.
type Cache interface {
	Fetch(ctx context.Context, key models.CacheKey, segment models.Segment, initRef string) (*models.Resource, error)
	Prefetch(key models.CacheKey, segment models.Segment, initRef string)
	Peek(key models.CacheKey) (*models.Resource, bool)
	InvalidateChapter(chapterID string)
}

// Listener receives playback lifecycle notifications. Callbacks are
// dispatched on their own goroutines; implementations may call back into
// the engine freely.
type Listener interface {
	// OnChapterLoaded fires when a new chapter's playlist is installed.
	OnChapterLoaded(audiobookID, chapterID string)
	// OnPlayStarted fires on every paused-to-playing transition.
	OnPlayStarted()
	// OnPaused fires on every playing-to-paused transition.
	OnPaused()
	// OnChapterEnded fires when the final segment plays to completion.
	OnChapterEnded(audiobookID, chapterID string)
	// OnPlaybackError fires when a fetch or decode failure pauses playback.
	OnPlaybackError(err error)
}

// Engine is the playback state machine. It owns the playback cursor:
// absolute-time to segment/offset mapping, seek resolution, natural
// segment advance and drag handling all go through it.
type Engine struct {
	mutex  sync.Mutex
	logger logger.Logger
	cache  Cache
	media  media.Engine

	audiobookID string
	playlist    *models.Playlist
	cursor      models.PlaybackCursor
	state       State
	lastErr     error

	// generation stamps every async load; completions for an older
	// generation are discarded, never applied.
	generation uint64

	// chapterCtx scopes in-flight fetches to the current chapter.
	chapterCtx    context.Context
	chapterCancel context.CancelFunc

	lastPrefetchAt  time.Time
	prefetchedIndex int

	// readyWaiters are woken on the next Ready-or-failure transition.
	readyWaiters []chan struct{}

	listeners []Listener
	closed    bool
}

// New creates a playback engine over the given cache and media engine.
// The engine registers itself as the media engine's notification handler.
func New(log logger.Logger, c Cache, m media.Engine) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:          log,
		cache:           c,
		media:           m,
		state:           StateIdle,
		chapterCtx:      ctx,
		chapterCancel:   cancel,
		prefetchedIndex: -1,
	}
	m.SetHandler(&mediaHandler{engine: e})
	return e
}

// AddListener registers a lifecycle listener. Not safe to call once
// playback has started.
func (e *Engine) AddListener(l Listener) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.listeners = append(e.listeners, l)
}

// notify dispatches a listener callback without holding the engine lock.
func (e *Engine) notify(fn func(Listener)) {
	e.mutex.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mutex.Unlock()

	for _, l := range listeners {
		go fn(l)
	}
}

// LoadChapter installs a new chapter playlist and resets the cursor to
// segment 0, position 0. The previous chapter's cache entries, in-flight
// fetches and pending results are all discarded. Playback starts paused.
func (e *Engine) LoadChapter(audiobookID string, pl *models.Playlist) {
	e.mutex.Lock()
	if e.playlist != nil && e.playlist.ChapterID != pl.ChapterID {
		e.cache.InvalidateChapter(e.playlist.ChapterID)
	}
	e.chapterCancel()
	ctx, cancel := context.WithCancel(context.Background())
	e.chapterCtx = ctx
	e.chapterCancel = cancel

	e.audiobookID = audiobookID
	e.playlist = pl
	e.cursor = models.PlaybackCursor{ChapterID: pl.ChapterID}
	e.lastErr = nil
	e.prefetchedIndex = -1
	e.media.Stop()

	e.logger.Infof("Loading chapter %s (%d segments, %.1fs)", pl.ChapterID, len(pl.Segments), pl.TotalDuration())
	e.beginSegmentLoadLocked(0, 0, StateLoading)
	e.mutex.Unlock()

	e.notify(func(l Listener) { l.OnChapterLoaded(audiobookID, pl.ChapterID) })
}

// beginSegmentLoadLocked starts an asynchronous load of the given segment,
// committing the cursor to (index, offset) once the resource arrives.
// Caller holds the lock.
func (e *Engine) beginSegmentLoadLocked(index int, offset float64, loadState State) {
	pl := e.playlist
	if pl == nil || index < 0 || index >= len(pl.Segments) {
		return
	}

	e.state = loadState
	e.generation++
	gen := e.generation
	ctx := e.chapterCtx
	seg := pl.Segments[index]
	key := models.CacheKey{ChapterID: pl.ChapterID, SegmentID: seg.ID, Bitrate: pl.Bitrate}

	go func() {
		res, err := e.cache.Fetch(ctx, key, seg, pl.InitSegmentRef)

		e.mutex.Lock()
		if gen != e.generation {
			e.mutex.Unlock()
			e.logger.Debugf("Discarding stale load result for %s", key)
			return
		}
		if err != nil {
			e.failLocked(err)
			e.mutex.Unlock()
			e.notify(func(l Listener) { l.OnPlaybackError(err) })
			return
		}
		if err := e.media.Load(res); err != nil {
			decodeErr := &models.DecodeError{Key: key, Err: err}
			e.failLocked(decodeErr)
			e.mutex.Unlock()
			e.notify(func(l Listener) { l.OnPlaybackError(decodeErr) })
			return
		}

		e.cursor.SegmentIndex = index
		e.cursor.Position = clamp(offset, 0, seg.Duration)
		if e.cursor.Position > 0 {
			e.media.SeekTo(e.cursor.Position)
		}
		e.state = StateReady
		e.wakeWaitersLocked()
		playing := e.cursor.Playing
		e.mutex.Unlock()

		e.logger.Debugf("Segment %s ready at offset %.2fs", key, offset)
		if playing {
			e.media.Play()
		}
	}()
}

// failLocked records a playback failure and degrades to paused Idle.
// Caller holds the lock.
func (e *Engine) failLocked(err error) {
	e.logger.Warnf("Playback error: %v", err)
	e.lastErr = err
	e.cursor.Playing = false
	e.state = StateIdle
	e.media.Pause()
	e.wakeWaitersLocked()
}

// wakeWaitersLocked releases everyone blocked in AwaitReady. Caller holds
// the lock; waiters re-check the state themselves.
func (e *Engine) wakeWaitersLocked() {
	for _, ch := range e.readyWaiters {
		close(ch)
	}
	e.readyWaiters = nil
}

// AwaitReady blocks until the engine reaches Ready, a load fails, or the
// timeout elapses. Returns true only for Ready. This is the explicit
// completion signal the chapter advancer waits on, bounded so a stuck
// fetch degrades to a silent stop instead of a hang.
func (e *Engine) AwaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mutex.Lock()
		switch e.state {
		case StateReady:
			e.mutex.Unlock()
			return true
		case StateIdle, StateEnded:
			e.mutex.Unlock()
			return false
		}
		ch := make(chan struct{})
		e.readyWaiters = append(e.readyWaiters, ch)
		e.mutex.Unlock()

		select {
		case <-ch:
			// Re-check: the wake may have been a failure.
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Play starts or resumes playback. After a fetch or decode failure it also
// acts as the manual retry: the current segment is loaded again.
func (e *Engine) Play() {
	e.mutex.Lock()
	if e.playlist == nil || e.closed {
		e.mutex.Unlock()
		return
	}
	if e.cursor.Playing {
		e.mutex.Unlock()
		return
	}
	e.cursor.Playing = true

	switch e.state {
	case StateReady:
		e.media.Play()
	case StateIdle:
		// Retry after a failure (or first play after a silent stop).
		e.lastErr = nil
		e.beginSegmentLoadLocked(e.cursor.SegmentIndex, e.cursor.Position, StateLoading)
	case StateEnded:
		e.cursor.Playing = false
		e.mutex.Unlock()
		return
	}
	e.mutex.Unlock()

	e.notify(func(l Listener) { l.OnPlayStarted() })
}

// Pause suspends playback, keeping the cursor in place.
func (e *Engine) Pause() {
	e.mutex.Lock()
	if !e.cursor.Playing {
		e.mutex.Unlock()
		return
	}
	e.cursor.Playing = false
	e.media.Pause()
	e.mutex.Unlock()

	e.notify(func(l Listener) { l.OnPaused() })
}

// SeekAbsolute moves the cursor to an absolute chapter time in seconds.
// The target is clamped to [0, total duration] and resolved to a
// (segment, offset) pair; an uncached target segment is fetched before the
// cursor commits, surfacing a Seeking state meanwhile.
func (e *Engine) SeekAbsolute(target float64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.seekAbsoluteLocked(target)
}

func (e *Engine) seekAbsoluteLocked(target float64) {
	pl := e.playlist
	if pl == nil || (e.state != StateReady && e.state != StateSeeking && e.state != StateEnded) {
		return
	}

	target = clamp(target, 0, pl.TotalDuration())
	index, offset := pl.SegmentForTime(target)

	if index == e.cursor.SegmentIndex && e.state == StateReady {
		e.cursor.Position = clamp(offset, 0, pl.Segments[index].Duration)
		e.media.SeekTo(e.cursor.Position)
		e.logger.Debugf("Seek within segment %d to %.2fs", index, offset)
		return
	}

	// Seeking out of Ended revives the chapter.
	e.logger.Debugf("Seek to %.2fs resolves to segment %d offset %.2fs", target, index, offset)
	e.beginSegmentLoadLocked(index, offset, StateSeeking)
}

// SeekRelative nudges the cursor by delta seconds (the ±10s controls).
// A single call crosses at most one segment boundary; at chapter edges the
// result clamps instead.
func (e *Engine) SeekRelative(delta float64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	pl := e.playlist
	if pl == nil || (e.state != StateReady && e.state != StateSeeking) {
		return
	}

	cur := pl.Segments[e.cursor.SegmentIndex]
	newPos := e.cursor.Position + delta

	index := e.cursor.SegmentIndex
	position := newPos
	switch {
	case newPos < 0:
		if index > 0 {
			prev := pl.Segments[index-1]
			index--
			position = max(0, prev.Duration+newPos)
		} else {
			position = 0
		}
	case newPos > cur.Duration:
		if index+1 < len(pl.Segments) {
			next := pl.Segments[index+1]
			index++
			position = min(newPos-cur.Duration, next.Duration)
		} else {
			position = cur.Duration
		}
	}

	if index == e.cursor.SegmentIndex && e.state == StateReady {
		e.cursor.Position = clamp(position, 0, cur.Duration)
		e.media.SeekTo(e.cursor.Position)
		return
	}
	e.beginSegmentLoadLocked(index, position, StateSeeking)
}

// SetDragging marks the scrubber as held. While dragging, progress ticks
// and natural segment ends leave the authoritative cursor untouched; the
// UI computes its preview position out-of-band and issues exactly one
// SeekAbsolute on release.
func (e *Engine) SetDragging(dragging bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.cursor.Dragging = dragging
}

// handleProgress applies a media engine progress tick to the cursor and
// arms prefetch of the next segment near the end of the current one.
func (e *Engine) handleProgress(offset float64) {
	e.mutex.Lock()

	pl := e.playlist
	if pl == nil || e.state != StateReady || e.cursor.Dragging || !e.cursor.Playing {
		e.mutex.Unlock()
		return
	}

	seg := pl.Segments[e.cursor.SegmentIndex]
	e.cursor.Position = clamp(offset, 0, seg.Duration)

	next := e.cursor.SegmentIndex + 1
	shouldPrefetch := next < len(pl.Segments) &&
		e.cursor.Position >= prefetchThreshold*seg.Duration &&
		e.prefetchedIndex != next &&
		time.Since(e.lastPrefetchAt) >= prefetchCooldown
	if shouldPrefetch {
		e.lastPrefetchAt = time.Now()
		e.prefetchedIndex = next
		nextSeg := pl.Segments[next]
		key := models.CacheKey{ChapterID: pl.ChapterID, SegmentID: nextSeg.ID, Bitrate: pl.Bitrate}
		e.cache.Prefetch(key, nextSeg, pl.InitSegmentRef)
		e.logger.Debugf("Prefetch armed for segment %d (%s)", next, nextSeg.ID)
	}
	e.mutex.Unlock()
}

// handleSegmentEnd advances to the next segment, or ends the chapter when
// the final segment completes.
func (e *Engine) handleSegmentEnd() {
	e.mutex.Lock()
	pl := e.playlist
	if pl == nil || e.state != StateReady || e.cursor.Dragging {
		e.mutex.Unlock()
		return
	}

	next := e.cursor.SegmentIndex + 1
	if next < len(pl.Segments) {
		e.logger.Debugf("Segment %d finished, advancing to %d", e.cursor.SegmentIndex, next)
		e.beginSegmentLoadLocked(next, 0, StateLoading)
		e.mutex.Unlock()
		return
	}

	e.logger.Infof("Chapter %s played to completion", pl.ChapterID)
	e.state = StateEnded
	e.cursor.Position = pl.Segments[e.cursor.SegmentIndex].Duration
	audiobookID, chapterID := e.audiobookID, pl.ChapterID
	e.mutex.Unlock()

	e.notify(func(l Listener) { l.OnChapterEnded(audiobookID, chapterID) })
}

// handleMediaError treats decode/transport errors from the media engine
// exactly like fetch failures: pause, surface, wait for a manual retry.
func (e *Engine) handleMediaError(err error) {
	e.mutex.Lock()
	pl := e.playlist
	var key models.CacheKey
	if pl != nil && e.cursor.SegmentIndex < len(pl.Segments) {
		key = models.CacheKey{
			ChapterID: pl.ChapterID,
			SegmentID: pl.Segments[e.cursor.SegmentIndex].ID,
			Bitrate:   pl.Bitrate,
		}
	}
	decodeErr := &models.DecodeError{Key: key, Err: err}
	e.failLocked(decodeErr)
	e.mutex.Unlock()

	e.notify(func(l Listener) { l.OnPlaybackError(decodeErr) })
}

// Cursor returns a copy of the authoritative playback cursor.
func (e *Engine) Cursor() models.PlaybackCursor {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cursor
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// Err returns the last surfaced playback error, if any.
func (e *Engine) Err() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.lastErr
}

// Playlist returns the installed playlist, or nil.
func (e *Engine) Playlist() *models.Playlist {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.playlist
}

// NowPlaying reports the live playback location for the sync scheduler:
// audiobook, chapter, absolute position in whole seconds, and whether
// playback is running. Timers read this at fire time, never a value
// captured when armed.
func (e *Engine) NowPlaying() (audiobookID, chapterID string, position int, playing bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.playlist == nil {
		return "", "", 0, false
	}
	return e.audiobookID, e.playlist.ChapterID,
		int(e.cursor.AbsoluteTime(e.playlist)), e.cursor.Playing
}

// Close tears the engine down: pending fetches are cancelled and the media
// engine is stopped.
func (e *Engine) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.cursor.Playing = false
	e.chapterCancel()
	e.generation++ // orphan any in-flight load
	e.media.Stop()
	e.state = StateIdle
	e.wakeWaitersLocked()
}

// mediaHandler adapts the media engine's notifications into engine events.
type mediaHandler struct {
	engine *Engine
}

func (h *mediaHandler) OnProgress(offset float64) { h.engine.handleProgress(offset) }
func (h *mediaHandler) OnSegmentEnd()             { h.engine.handleSegmentEnd() }
func (h *mediaHandler) OnError(err error)         { h.engine.handleMediaError(err) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
