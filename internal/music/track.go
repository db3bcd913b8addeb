// Package music implements the per-guild playback engine: the track queue,
// the playback session state machine that drives a voice transport, and the
// registry that owns one session per guild.
//
// A [Session] is driven from two directions. Command handlers call its
// exported methods (Enqueue, Skip, Stop, SetVolume, ...) from arbitrary
// goroutines, while the transport reports the end of each track through the
// completion channel returned by [audio.Transport.Play]. Both paths serialise
// on the session mutex, and a single consumer goroutine per session advances
// the queue so that each logical completion advances exactly once.
package music

import (
	"fmt"
	"maps"
	"time"
)

// Track describes one playable item resolved by an [Extractor]. It is a value
// type; the headers map is copied in and out so a Track is never mutated after
// construction.
type Track struct {
	Title     string
	StreamURL string
	PageURL   string

	// Duration is zero when unknown (live streams, some providers).
	Duration time.Duration

	// RequestedBy is the Discord user ID of the requester.
	RequestedBy string

	// Optional display metadata.
	Artist    string
	Uploader  string
	Thumbnail string
	ViewCount int64

	headers map[string]string
}

// WithHeaders returns a copy of t carrying a private copy of headers.
func (t Track) WithHeaders(headers map[string]string) Track {
	if len(headers) == 0 {
		t.headers = nil
		return t
	}
	t.headers = maps.Clone(headers)
	return t
}

// Headers returns a copy of the HTTP headers needed to fetch StreamURL.
// Never nil.
func (t Track) Headers() map[string]string {
	if t.headers == nil {
		return map[string]string{}
	}
	return maps.Clone(t.headers)
}

// DurationString renders the duration as m:ss, or "Unknown" when not known.
func (t Track) DurationString() string {
	return FormatDuration(t.Duration)
}

// String implements [fmt.Stringer].
func (t Track) String() string {
	return fmt.Sprintf("%s (requested by <@%s>)", t.Title, t.RequestedBy)
}

// FormatDuration renders d as m:ss (minutes are not wrapped into hours), or
// "Unknown" for non-positive durations.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
