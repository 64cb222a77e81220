package playlist_test

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"abstream/internal/playlist"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	playlist *models.Playlist
	err      error
}

func (s *stubService) FetchPlaylist(ctx context.Context, chapterID string) (*models.Playlist, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.playlist, nil
}

func TestLoad_PassesPlaylistThrough(t *testing.T) {
	want := &models.Playlist{
		ChapterID: "ch1",
		Segments:  []models.Segment{{ID: "s0", Duration: 30}},
	}
	m := playlist.NewModel(logger.Nop{}, &stubService{playlist: want})

	got, err := m.Load(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestLoad_WrapsFailuresAsFetchError(t *testing.T) {
	m := playlist.NewModel(logger.Nop{}, &stubService{err: fmt.Errorf("service down")})

	_, err := m.Load(context.Background(), "ch1")
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "ch1", fetchErr.Key.ChapterID)
}
