package music

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use [errors.Is] to classify; the concrete types below
// carry detail.
var (
	// ErrExtraction marks a failure to resolve a query into a [Track]. The
	// session is never mutated when extraction fails.
	ErrExtraction = errors.New("music: extraction failed")

	// ErrProcessSpawn marks a failure to start the decode process for a
	// track. The session logs it and advances to the next track.
	ErrProcessSpawn = errors.New("music: decode process failed to start")

	// ErrPlayback marks a failure reported by the transport while a track
	// was playing. The session logs it and advances.
	ErrPlayback = errors.New("music: playback failed")

	// ErrState marks an operation that is invalid in the session's current
	// state. Every [*StateError] matches it.
	ErrState = errors.New("music: invalid session state")

	// ErrSessionStopped matches a [*StateError] raised on a stopped session.
	ErrSessionStopped = errors.New("music: session stopped")
)

// ExtractionError wraps the cause of a failed extraction.
type ExtractionError struct {
	Query string
	Err   error
}

// Error implements [error].
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("music: extract %q: %v", e.Query, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrExtraction].
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op     string
	State  State
	Reason string
}

// Error implements [error].
func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("music: cannot %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("music: cannot %s while %s", e.Op, e.State)
}

// Is matches [ErrState] always and [ErrSessionStopped] when the session
// was stopped.
func (e *StateError) Is(target error) bool {
	switch target {
	case ErrState:
		return true
	case ErrSessionStopped:
		return e.State == StateStopped
	}
	return false
}
