package music

import (
	"errors"
	"fmt"
	"testing"
)

func TestExtractionError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &ExtractionError{Query: "q", Err: cause})
	if !errors.Is(err, ErrExtraction) {
		t.Error("errors.Is(err, ErrExtraction) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.Query != "q" {
		t.Errorf("errors.As failed: %v", ee)
	}
}

func TestStateError_Is(t *testing.T) {
	t.Parallel()

	idle := &StateError{Op: "skip", State: StateIdle}
	if !errors.Is(idle, ErrState) {
		t.Error("StateError does not match ErrState")
	}
	if errors.Is(idle, ErrSessionStopped) {
		t.Error("idle StateError matches ErrSessionStopped")
	}
	if got, want := idle.Error(), "music: cannot skip while idle"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	stopped := &StateError{Op: "enqueue", State: StateStopped}
	if !errors.Is(stopped, ErrSessionStopped) {
		t.Error("stopped StateError does not match ErrSessionStopped")
	}

	reason := &StateError{Op: "enqueue", State: StateIdle, Reason: "not connected"}
	if got, want := reason.Error(), "music: cannot enqueue: not connected"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
