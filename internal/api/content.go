package api

import (
	"abstream/internal/models"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DownloadSegment fetches a single segment body from the content service
// with retries. The locator from the playlist is resolved against the
// content base URL; the bitrate travels as a query parameter.
func (c *Client) DownloadSegment(ctx context.Context, key models.CacheKey, locator string) ([]byte, error) {
	u, err := resolveURL(c.contentBase, locator)
	if err != nil {
		return nil, fmt.Errorf("failed to build segment URL for %s: %w", key, err)
	}
	if key.Bitrate != "" {
		q := u.Query()
		q.Set("bitrate", key.Bitrate)
		u.RawQuery = q.Encode()
	}

	const maxRetries = 3
	const retryDelay = 100 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("segment download for %s cancelled: %w", key, err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
		if err != nil {
			cancel()
			// This error is non-recoverable, so don't retry.
			return nil, fmt.Errorf("failed to create request for segment %s: %w", key, err)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		c.logger.Debugf("Downloading segment %s (Attempt %d/%d)", key, attempt, maxRetries)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("download attempt %d failed for segment %s: %w", attempt, key, err)
			c.logger.Warnf(lastErr.Error())
			time.Sleep(retryDelay)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			cancel()
			lastErr = fmt.Errorf("download attempt %d for segment %s received non-200 status: %d", attempt, key, resp.StatusCode)
			c.logger.Warnf(lastErr.Error())
			time.Sleep(retryDelay)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("download attempt %d for segment %s failed while reading body: %w", attempt, key, err)
			c.logger.Warnf(lastErr.Error())
			time.Sleep(retryDelay)
			continue
		}

		c.logger.Debugf("Successfully downloaded segment %s (%d bytes)", key, len(data))
		return data, nil
	}

	return nil, fmt.Errorf("failed to download segment %s after %d attempts: %w", key, maxRetries, lastErr)
}
