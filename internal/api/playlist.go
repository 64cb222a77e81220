package api

import (
	"abstream/internal/models"
	"context"
	"encoding/json"
	"fmt"
)

// rawSegment mirrors one segment entry of the playlist service response.
type rawSegment struct {
	SegmentID string  `json:"segmentId"`
	Duration  float64 `json:"duration"`
	Locator   string  `json:"locator"`
}

// rawPlaylist mirrors the playlist service response envelope.
type rawPlaylist struct {
	Segments        []rawSegment `json:"segments"`
	InitSegmentRef  string       `json:"initSegmentRef"`
	SelectedBitrate string       `json:"selectedBitrate"`
}

// FetchPlaylist retrieves and validates the segment playlist for a chapter.
// Segment order is taken from the service as-is; the origin guarantees it.
func (c *Client) FetchPlaylist(ctx context.Context, chapterID string) (*models.Playlist, error) {
	u, err := resolveURL(c.playlistBase, fmt.Sprintf("chapters/%s/playlist", chapterID))
	if err != nil {
		return nil, fmt.Errorf("failed to build playlist URL for chapter %s: %w", chapterID, err)
	}
	if c.preferredBitrate != "" {
		q := u.Query()
		q.Set("bitrate", c.preferredBitrate)
		u.RawQuery = q.Encode()
	}

	c.logger.Debugf("Fetching playlist for chapter %s from %s", chapterID, u)
	data, err := c.getJSON(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist for chapter %s: %w", chapterID, err)
	}

	var raw rawPlaylist
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playlist for chapter %s: %w", chapterID, err)
	}

	if len(raw.Segments) == 0 {
		return nil, fmt.Errorf("playlist for chapter %s contains no segments", chapterID)
	}

	segments := make([]models.Segment, 0, len(raw.Segments))
	for i, rs := range raw.Segments {
		if rs.Duration < 0 {
			return nil, fmt.Errorf("playlist for chapter %s has negative duration on segment %s", chapterID, rs.SegmentID)
		}
		segments = append(segments, models.Segment{
			ID:       rs.SegmentID,
			Locator:  rs.Locator,
			Duration: rs.Duration,
			Ordinal:  i,
		})
	}

	playlist := &models.Playlist{
		ChapterID:      chapterID,
		Segments:       segments,
		InitSegmentRef: raw.InitSegmentRef,
		Bitrate:        raw.SelectedBitrate,
	}

	c.logger.Debugf("Fetched playlist for chapter %s: %d segments, %.1fs total, bitrate %q",
		chapterID, len(segments), playlist.TotalDuration(), playlist.Bitrate)
	return playlist, nil
}
