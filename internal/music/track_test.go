package music

import (
	"testing"
	"time"
)

func TestTrack_HeadersAreCopied(t *testing.T) {
	t.Parallel()

	src := map[string]string{"User-Agent": "ua"}
	tr := Track{Title: "a"}.WithHeaders(src)
	src["User-Agent"] = "mutated"

	h := tr.Headers()
	if h["User-Agent"] != "ua" {
		t.Errorf("header changed through caller map: %q", h["User-Agent"])
	}
	h["User-Agent"] = "again"
	if tr.Headers()["User-Agent"] != "ua" {
		t.Error("header changed through accessor result")
	}
}

func TestTrack_HeadersNeverNil(t *testing.T) {
	t.Parallel()

	if (Track{}).Headers() == nil {
		t.Error("Headers() returned nil for a track without headers")
	}
}

func TestTrack_DurationString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "Unknown"},
		{-time.Second, "Unknown"},
		{5 * time.Second, "0:05"},
		{65 * time.Second, "1:05"},
		{3725 * time.Second, "62:05"},
		{90*time.Second + 900*time.Millisecond, "1:30"},
	}
	for _, tt := range tests {
		if got := (Track{Duration: tt.d}).DurationString(); got != tt.want {
			t.Errorf("DurationString(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTrack_String(t *testing.T) {
	t.Parallel()

	tr := Track{Title: "Song", RequestedBy: "42"}
	if got, want := tr.String(), "Song (requested by <@42>)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
