package api

import (
	"abstream/internal/models"
	"context"
	"encoding/json"
	"fmt"
)

// ListChapters retrieves one page of the chapter listing for an audiobook.
// Pages are 1-based.
func (c *Client) ListChapters(ctx context.Context, audiobookID string, page int) (*models.ChapterPage, error) {
	u, err := resolveURL(c.libraryBase, fmt.Sprintf("audiobooks/%s/chapters", audiobookID))
	if err != nil {
		return nil, fmt.Errorf("failed to build chapter listing URL for audiobook %s: %w", audiobookID, err)
	}
	q := u.Query()
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()

	c.logger.Debugf("Fetching chapter page %d for audiobook %s", page, audiobookID)
	data, err := c.getJSON(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter page %d for audiobook %s: %w", page, audiobookID, err)
	}

	var chapterPage models.ChapterPage
	if err := json.Unmarshal(data, &chapterPage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chapter page %d for audiobook %s: %w", page, audiobookID, err)
	}

	return &chapterPage, nil
}
