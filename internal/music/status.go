package music

import "context"

// StatusKind classifies a [Status] message.
type StatusKind int

const (
	// StatusNowPlaying announces a track that just started.
	StatusNowPlaying StatusKind = iota

	// StatusTrackFailed reports a track that could not be started or played.
	StatusTrackFailed

	// StatusQueueEnded reports that the last queued track finished.
	StatusQueueEnded

	// StatusFailureLimit reports that playback gave up after too many
	// consecutive failures and cleared the queue.
	StatusFailureLimit
)

// String returns the human-readable name of the status kind.
func (k StatusKind) String() string {
	switch k {
	case StatusNowPlaying:
		return "now_playing"
	case StatusTrackFailed:
		return "track_failed"
	case StatusQueueEnded:
		return "queue_ended"
	case StatusFailureLimit:
		return "failure_limit"
	default:
		return "unknown"
	}
}

// Status is a user-facing notification emitted by a [Session].
type Status struct {
	Kind    StatusKind
	GuildID string
	Track   Track // zero for StatusQueueEnded

	// Err is set for StatusTrackFailed and StatusFailureLimit.
	Err error

	// Volume is the session volume multiplier at the time of the status.
	Volume float64

	// Queued is the number of tracks still waiting.
	Queued int
}

// StatusSink delivers [Status] messages to a text channel. Implementations
// must be safe for concurrent use. Delivery failures are the sink's concern;
// the session never acts on them.
type StatusSink interface {
	Post(ctx context.Context, channelID string, st Status) error
}

// StatusSinkFunc adapts a function to [StatusSink].
type StatusSinkFunc func(ctx context.Context, channelID string, st Status) error

// Post implements [StatusSink].
func (f StatusSinkFunc) Post(ctx context.Context, channelID string, st Status) error {
	return f(ctx, channelID, st)
}
