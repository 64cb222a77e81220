package media_test

import (
	"abstream/internal/media"
	"abstream/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHandler records notifications from the simulation engine.
type captureHandler struct {
	mu       sync.Mutex
	progress []float64
	ended    int
}

func (h *captureHandler) OnProgress(offset float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, offset)
}

func (h *captureHandler) OnSegmentEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended++
}

func (h *captureHandler) OnError(err error) {}

func (h *captureHandler) endedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *captureHandler) tickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.progress)
}

func resource(duration float64) *models.Resource {
	return &models.Resource{
		Key:      models.CacheKey{ChapterID: "ch1", SegmentID: "s0", Bitrate: "64k"},
		Data:     []byte("x"),
		Duration: duration,
	}
}

func TestSimEngine_RejectsEmptyResource(t *testing.T) {
	e := media.NewSimEngine(10 * time.Millisecond)
	err := e.Load(&models.Resource{})
	assert.Error(t, err)
}

func TestSimEngine_PlaysToSegmentEnd(t *testing.T) {
	e := media.NewSimEngine(10 * time.Millisecond)
	h := &captureHandler{}
	e.SetHandler(h)

	require.NoError(t, e.Load(resource(0.05)))
	e.Play()

	require.Eventually(t, func() bool { return h.endedCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, h.tickCount(), 1)
}

func TestSimEngine_PauseHaltsTicks(t *testing.T) {
	e := media.NewSimEngine(10 * time.Millisecond)
	h := &captureHandler{}
	e.SetHandler(h)

	require.NoError(t, e.Load(resource(60)))
	e.Play()
	require.Eventually(t, func() bool { return h.tickCount() >= 2 },
		time.Second, 5*time.Millisecond)
	e.Pause()

	count := h.tickCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, h.tickCount())
}

func TestSimEngine_SeekClampsToDuration(t *testing.T) {
	e := media.NewSimEngine(10 * time.Millisecond)
	h := &captureHandler{}
	e.SetHandler(h)

	require.NoError(t, e.Load(resource(0.5)))
	e.SeekTo(100) // clamps to the segment end
	e.Play()

	require.Eventually(t, func() bool { return h.endedCount() == 1 },
		time.Second, 5*time.Millisecond)
}
