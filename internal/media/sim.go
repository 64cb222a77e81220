package media

import (
	"abstream/internal/models"
	"fmt"
	"sync"
	"time"
)

// SimEngine is a wall-clock simulation of an audio engine. It "plays" a
// loaded resource by advancing an internal playhead in real time and
// emitting progress ticks, without touching any audio hardware. Used by
// the headless player binary and by soak tests against real backends.
type SimEngine struct {
	mutex    sync.Mutex
	handler  Handler
	duration float64
	offset   float64
	playing  bool
	loaded   bool

	tickInterval time.Duration
	stopTicker   chan struct{}
}

// NewSimEngine creates a simulation engine.
func NewSimEngine(tickInterval time.Duration) *SimEngine {
	if tickInterval <= 0 {
		tickInterval = 250 * time.Millisecond
	}
	return &SimEngine{
		tickInterval: tickInterval,
	}
}

// SetHandler registers the notification sink.
func (e *SimEngine) SetHandler(h Handler) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.handler = h
}

// Load replaces the current resource and rewinds the playhead.
func (e *SimEngine) Load(res *models.Resource) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if len(res.Data) == 0 {
		return fmt.Errorf("refusing to load empty resource %s", res.Key)
	}
	e.duration = res.Duration
	e.offset = 0
	e.loaded = true
	return nil
}

// Play starts (or resumes) the simulated playback clock.
func (e *SimEngine) Play() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.loaded || e.playing {
		return
	}
	e.playing = true
	stop := make(chan struct{})
	e.stopTicker = stop
	go e.run(stop)
}

// Pause halts the playback clock, keeping the playhead in place.
func (e *SimEngine) Pause() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.pauseLocked()
}

func (e *SimEngine) pauseLocked() {
	if !e.playing {
		return
	}
	e.playing = false
	close(e.stopTicker)
	e.stopTicker = nil
}

// SeekTo moves the playhead within the loaded segment.
func (e *SimEngine) SeekTo(offset float64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > e.duration {
		offset = e.duration
	}
	e.offset = offset
}

// Stop unloads the resource and halts the clock.
func (e *SimEngine) Stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.pauseLocked()
	e.loaded = false
	e.offset = 0
}

// run advances the playhead until pause, stop, or segment end.
func (e *SimEngine) run(stop chan struct{}) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mutex.Lock()
			if !e.playing {
				e.mutex.Unlock()
				return
			}
			e.offset += e.tickInterval.Seconds()
			ended := e.offset >= e.duration
			if ended {
				e.offset = e.duration
				e.pauseLocked()
			}
			offset := e.offset
			handler := e.handler
			e.mutex.Unlock()

			if handler == nil {
				continue
			}
			// Notifications go out without the lock held; handlers feed
			// events back into the playback engine.
			handler.OnProgress(offset)
			if ended {
				handler.OnSegmentEnd()
				return
			}
		}
	}
}
