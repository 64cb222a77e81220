package models

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the remote resource does not exist (HTTP 404).
// It is the only tracking failure worth retrying: a session that is not
// provisioned yet may appear after a short wait.
var ErrNotFound = errors.New("resource not found")

// ErrAdvanceTimeout indicates the next chapter did not become playable
// within the bounded wait. Playback stops silently; this is never surfaced
// to the user as an error.
var ErrAdvanceTimeout = errors.New("next chapter not ready within wait window")

// FetchError reports a failed playlist or segment retrieval. It is
// user-visible: playback pauses and retry is left to the user.
type FetchError struct {
	Key CacheKey
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports the media engine rejecting a fetched resource.
// Treated exactly like a FetchError: pause, surface, manual retry.
type DecodeError struct {
	Key CacheKey
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("media engine rejected %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TrackingError reports a failed tracking service call. These are always
// logged and swallowed; they must never block or fail playback.
type TrackingError struct {
	Op  string
	Err error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("tracking %s failed: %v", e.Op, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }
