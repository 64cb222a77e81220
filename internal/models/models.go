package models

import "time"

// Segment represents one fixed chunk of a chapter's audio.
// Segments are immutable once obtained from the playlist service.
type Segment struct {
	// ID is the unique identifier of the segment within its chapter.
	ID string
	// Locator is the path or URL fragment used to fetch the segment body.
	Locator string
	// Duration is the segment's play time in seconds. Never negative.
	Duration float64
	// Ordinal is the zero-based position of the segment within the chapter.
	Ordinal int
}

// Playlist is the ordered segment list for a single chapter, plus the
// metadata needed to fetch segment bodies. A playlist is owned by its
// chapter and is replaced wholesale on chapter change, never mutated.
type Playlist struct {
	ChapterID string
	Segments  []Segment
	// InitSegmentRef points at an initialization segment for fragmented
	// containers. Empty when the container is self-initializing.
	InitSegmentRef string
	// Bitrate is the identifier of the variant selected by the origin.
	Bitrate string
}

// TotalDuration returns the sum of all segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, seg := range p.Segments {
		total += seg.Duration
	}
	return total
}

// SegmentForTime resolves an absolute chapter time to a (segment index,
// intra-segment offset) pair. The target is clamped to [0, TotalDuration]:
// negative targets resolve to the start of segment 0, and targets past the
// end resolve to the last segment at its full duration.
func (p *Playlist) SegmentForTime(target float64) (int, float64) {
	if len(p.Segments) == 0 {
		return 0, 0
	}
	if target < 0 {
		target = 0
	}

	var cumulative float64
	for i, seg := range p.Segments {
		if target <= cumulative+seg.Duration {
			return i, target - cumulative
		}
		cumulative += seg.Duration
	}

	last := len(p.Segments) - 1
	return last, p.Segments[last].Duration
}

// PlaybackCursor is the authoritative playback location: which chapter,
// which segment, and how far into it. It is owned by the playback engine
// and only ever mutated through the engine's operations; readers receive
// copies.
type PlaybackCursor struct {
	ChapterID    string
	SegmentIndex int
	// Position is the offset within the current segment, in seconds,
	// clamped to [0, segment duration] on every write.
	Position float64
	Playing  bool
	Dragging bool
}

// AbsoluteTime reconstructs the absolute chapter time of the cursor against
// the given playlist.
func (c PlaybackCursor) AbsoluteTime(p *Playlist) float64 {
	var before float64
	for i := 0; i < c.SegmentIndex && i < len(p.Segments); i++ {
		before += p.Segments[i].Duration
	}
	return before + c.Position
}

// CacheKey identifies a cached segment resource.
type CacheKey struct {
	ChapterID string
	SegmentID string
	Bitrate   string
}

// String renders the key in the form used for logging and deduplication.
func (k CacheKey) String() string {
	return k.ChapterID + "/" + k.SegmentID + "/" + k.Bitrate
}

// Resource is a fetched, playable segment body handed to the media engine.
type Resource struct {
	Key CacheKey
	// Data is the segment body as served by the content service.
	Data []byte
	// Init is the initialization segment body, when the container needs one.
	Init []byte
	// Duration is the segment's play time in seconds, carried along for
	// media engines that cannot derive it from the bytes.
	Duration  float64
	FetchedAt time.Time
}

// Action is the kind of playback event reported to the tracking service.
type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
)

// SyncEvent is a best-effort playback report sent to the tracking service.
type SyncEvent struct {
	AudiobookID string `json:"audiobookId"`
	ChapterID   string `json:"chapterId"`
	Action      Action `json:"action"`
	// Position is the absolute chapter position in whole seconds.
	Position int `json:"position"`
}

// Chapter is one entry of the audiobook's chapter listing.
type Chapter struct {
	ID     string `json:"id"`
	Number int    `json:"chapterNumber"`
	Title  string `json:"title"`
}

// Pagination describes the chapter listing service's paging envelope.
type Pagination struct {
	HasNextPage bool `json:"hasNextPage"`
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
}

// ChapterPage is one page of the chapter listing.
type ChapterPage struct {
	Data       []Chapter  `json:"data"`
	Pagination Pagination `json:"pagination"`
}
