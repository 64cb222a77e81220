package playlist

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
)

// Service fetches chapter playlists from the playlist service.
type Service interface {
	FetchPlaylist(ctx context.Context, chapterID string) (*models.Playlist, error)
}

// Model loads and hands out chapter playlists. Segments are never
// reordered or deduplicated locally; the origin guarantees order. Retry
// policy belongs to the caller.
type Model struct {
	svc    Service
	logger logger.Logger
}

// NewModel creates a playlist model over the given service client.
func NewModel(log logger.Logger, svc Service) *Model {
	return &Model{svc: svc, logger: log}
}

// Load fetches the playlist for a chapter. Failures come back as a
// *models.FetchError so the UI can offer a retry.
func (m *Model) Load(ctx context.Context, chapterID string) (*models.Playlist, error) {
	p, err := m.svc.FetchPlaylist(ctx, chapterID)
	if err != nil {
		m.logger.Warnf("Playlist load for chapter %s failed: %v", chapterID, err)
		return nil, &models.FetchError{Key: models.CacheKey{ChapterID: chapterID}, Err: err}
	}
	m.logger.Infof("Loaded playlist for chapter %s: %d segments, %.1fs total",
		chapterID, len(p.Segments), p.TotalDuration())
	return p, nil
}
