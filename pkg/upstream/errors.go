package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoMedia is the upstream's "no medias found" logical error. It is
	// surfaced only after the retry budget is exhausted.
	ErrNoMedia = errors.New("no downloadable media found")

	// ErrUnreachable means every attempt failed at the transport level.
	ErrUnreachable = errors.New("extraction service unreachable")
)

// Error is a permanent upstream failure: a non-2xx status or an explicit
// error flag unrelated to the "no media" case. It is never retried.
type Error struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// FriendlyMessage substitutes user-facing text for known upstream failures.
// Unknown codes pass the upstream's own message through.
func (e *Error) FriendlyMessage() string {
	switch {
	case e.StatusCode == 503 || e.Message == "NETWORK_UNAVAILABLE":
		return "The download service is temporarily unavailable. Please try again in a moment."
	case e.StatusCode == 429:
		return "Too many requests to the download service. Please wait and try again."
	case e.StatusCode >= 500:
		return "The download service is experiencing issues. Please try again later."
	}
	if e.Message != "" {
		return e.Message
	}
	return "The download request failed."
}
