package api

import (
	"abstream/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sessionRequest is the body of the tracking session-init call.
type sessionRequest struct {
	UserID      string `json:"userId"`
	AudiobookID string `json:"audiobookId"`
	ChapterID   string `json:"chapterId"`
}

// postJSON performs a POST with a JSON body. A 404 response maps to
// models.ErrNotFound so callers can tell "not provisioned yet" apart from
// every other failure.
func (c *Client) postJSON(ctx context.Context, u string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body for %s: %w", u, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", u, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", u, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("request to %s: %w", u, models.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request to %s received non-2xx status: %d", u, resp.StatusCode)
	}
	return nil
}

// CreateSession registers a listening session with the tracking service.
// Returns an error wrapping models.ErrNotFound when the server-side
// resource is not provisioned yet.
func (c *Client) CreateSession(ctx context.Context, userID, audiobookID, chapterID string) error {
	u, err := resolveURL(c.trackingBase, "sessions")
	if err != nil {
		return fmt.Errorf("failed to build session URL: %w", err)
	}
	return c.postJSON(ctx, u.String(), sessionRequest{
		UserID:      userID,
		AudiobookID: audiobookID,
		ChapterID:   chapterID,
	})
}

// SyncPlayback reports a playback event to the tracking service.
func (c *Client) SyncPlayback(ctx context.Context, event models.SyncEvent) error {
	u, err := resolveURL(c.trackingBase, "sync")
	if err != nil {
		return fmt.Errorf("failed to build sync URL: %w", err)
	}
	return c.postJSON(ctx, u.String(), event)
}
