package media

import "abstream/internal/models"

// Handler receives the media engine's asynchronous playback notifications.
// Implementations must treat these as inbound events and never call back
// into the engine synchronously from inside a notification.
type Handler interface {
	// OnProgress reports the playhead offset within the loaded segment,
	// in seconds.
	OnProgress(offset float64)
	// OnSegmentEnd fires when the loaded segment has played to completion.
	OnSegmentEnd()
	// OnError reports a decode or transport failure inside the engine.
	OnError(err error)
}

// Engine is the opaque audio engine behind the player. It accepts playable
// segment resources and emits progress ticks; decoding and rendering are
// its business alone.
type Engine interface {
	// Load replaces the engine's current resource. Playback does not start
	// until Play is called. Returns a decode error if the resource is
	// unusable.
	Load(res *models.Resource) error
	Play()
	Pause()
	// SeekTo moves the playhead within the loaded segment, in seconds.
	SeekTo(offset float64)
	// Stop unloads the current resource and silences the engine.
	Stop()
	// SetHandler registers the notification sink. Must be called before
	// the first Load.
	SetHandler(h Handler)
}
