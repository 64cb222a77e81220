package api

import (
	"abstream/internal/logger"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is responsible for all communication with the audiobook backend:
// the playlist service, the segment content service, the chapter listing
// service and the tracking service. One Client is shared by every component
// of the player.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string

	playlistBase *url.URL
	contentBase  *url.URL
	libraryBase  *url.URL
	trackingBase *url.URL

	// preferredBitrate is passed to the playlist service as a hint; the
	// service still decides which variant it serves.
	preferredBitrate string

	requestTimeout time.Duration
}

// Endpoints carries the four service base URLs.
type Endpoints struct {
	Playlist string
	Content  string
	Library  string
	Tracking string
}

// NewClient creates a backend client. The request timeout bounds each
// individual HTTP exchange, not a whole logical operation.
func NewClient(log logger.Logger, eps Endpoints, userAgent string, requestTimeout time.Duration) (*Client, error) {
	parse := func(name, raw string) (*url.URL, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s base URL '%s': %w", name, raw, err)
		}
		return u, nil
	}

	playlistBase, err := parse("playlist", eps.Playlist)
	if err != nil {
		return nil, err
	}
	contentBase, err := parse("content", eps.Content)
	if err != nil {
		return nil, err
	}
	libraryBase, err := parse("library", eps.Library)
	if err != nil {
		return nil, err
	}
	trackingBase, err := parse("tracking", eps.Tracking)
	if err != nil {
		return nil, err
	}

	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: 3 * time.Second,
	}

	return &Client{
		httpClient:     &http.Client{Transport: transport},
		logger:         log,
		userAgent:      userAgent,
		playlistBase:   playlistBase,
		contentBase:    contentBase,
		libraryBase:    libraryBase,
		trackingBase:   trackingBase,
		requestTimeout: requestTimeout,
	}, nil
}

// SetPreferredBitrate sets the variant hint sent with playlist requests.
func (c *Client) SetPreferredBitrate(bitrate string) {
	c.preferredBitrate = bitrate
}

// HttpClient returns the underlying http.Client instance.
func (c *Client) HttpClient() *http.Client {
	return c.httpClient
}

// getJSON performs a GET with the client's user agent and per-request
// timeout, returning the raw body on a 200 response.
func (c *Client) getJSON(ctx context.Context, u string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", u, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to %s received non-200 status: %d", u, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", u, err)
	}
	return data, nil
}

// resolveURL resolves a path against a base URL, handling potential errors.
func resolveURL(base *url.URL, path string) (*url.URL, error) {
	resolvedPath, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path '%s': %w", path, err)
	}
	return base.ResolveReference(resolvedPath), nil
}
