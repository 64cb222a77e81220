package api_test

import (
	"abstream/internal/api"
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, base string) *api.Client {
	t.Helper()
	client, err := api.NewClient(logger.Nop{}, api.Endpoints{
		Playlist: base + "/",
		Content:  base + "/",
		Library:  base + "/",
		Tracking: base + "/",
	}, "test-agent", 2*time.Second)
	require.NoError(t, err)
	return client
}

func TestFetchPlaylist_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chapters/ch1/playlist", r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{
			"segments": [
				{"segmentId": "s0", "duration": 30, "locator": "segments/s0"},
				{"segmentId": "s1", "duration": 45, "locator": "segments/s1"}
			],
			"initSegmentRef": "segments/init",
			"selectedBitrate": "64k"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	pl, err := client.FetchPlaylist(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, "ch1", pl.ChapterID)
	assert.Equal(t, "64k", pl.Bitrate)
	assert.Equal(t, "segments/init", pl.InitSegmentRef)
	require.Len(t, pl.Segments, 2)
	assert.Equal(t, 0, pl.Segments[0].Ordinal)
	assert.Equal(t, 1, pl.Segments[1].Ordinal)
	assert.Equal(t, 75.0, pl.TotalDuration())
}

func TestFetchPlaylist_SendsBitrateHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "96k", r.URL.Query().Get("bitrate"))
		fmt.Fprint(w, `{
			"segments": [{"segmentId": "s0", "duration": 30, "locator": "segments/s0"}],
			"selectedBitrate": "96k"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	client.SetPreferredBitrate("96k")
	pl, err := client.FetchPlaylist(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, "96k", pl.Bitrate)
}

func TestFetchPlaylist_RejectsEmptyAndNegative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"segments": []}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchPlaylist(context.Background(), "ch1")
	assert.ErrorContains(t, err, "no segments")

	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"segments": [{"segmentId": "s0", "duration": -1, "locator": "x"}]}`)
	}))
	defer badServer.Close()

	client = newTestClient(t, badServer.URL)
	_, err = client.FetchPlaylist(context.Background(), "ch1")
	assert.ErrorContains(t, err, "negative duration")
}

func TestDownloadSegment_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/segments/s0", r.URL.Path)
		assert.Equal(t, "64k", r.URL.Query().Get("bitrate"))
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	key := models.CacheKey{ChapterID: "ch1", SegmentID: "s0", Bitrate: "64k"}
	data, err := client.DownloadSegment(context.Background(), key, "segments/s0")
	require.NoError(t, err)
	assert.Equal(t, "segment data", string(data))
}

// TestDownloadSegment_RetryThenSuccess verifies that the downloader retries
// on failure and succeeds once the server recovers.
func TestDownloadSegment_RetryThenSuccess(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&requestCount, 1)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	key := models.CacheKey{ChapterID: "ch1", SegmentID: "s0", Bitrate: ""}
	data, err := client.DownloadSegment(context.Background(), key, "segments/s0")
	require.NoError(t, err)
	assert.Equal(t, "segment data", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
}

func TestDownloadSegment_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	key := models.CacheKey{ChapterID: "ch1", SegmentID: "s0"}
	_, err := client.DownloadSegment(context.Background(), key, "segments/s0")
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestListChapters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audiobooks/book1/chapters", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		fmt.Fprint(w, `{
			"data": [{"id": "ch3", "chapterNumber": 3, "title": "Three"}],
			"pagination": {"hasNextPage": false, "currentPage": 2, "totalPages": 2}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	page, err := client.ListChapters(context.Background(), "book1", 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 3, page.Data[0].Number)
	assert.False(t, page.Pagination.HasNextPage)
}

func TestCreateSession_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.CreateSession(context.Background(), "u1", "book1", "ch1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSyncPlayback(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync", r.URL.Path)
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.SyncPlayback(context.Background(), models.SyncEvent{
		AudiobookID: "book1",
		ChapterID:   "ch1",
		Action:      models.ActionSeek,
		Position:    42,
	})
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"action":"seek"`)
	assert.Contains(t, gotBody, `"position":42`)
}
