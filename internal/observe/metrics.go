// Package observe holds tourbot's telemetry: playback, extraction and
// command metrics, spans around extraction and slash commands, trace-aware
// logging, and the middleware on the health and metrics listener.
//
// [Setup] installs the SDK providers and bridges metrics into the Prometheus
// registry served on /metrics. Components take a [*Metrics]; tests build one
// with [NewMetrics] over their own [metric.MeterProvider] rather than using
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tourbot metrics.
const meterName = "github.com/vnutour/tourbot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ExtractionDuration tracks yt-dlp metadata extraction latency. Use with
	// attribute: attribute.String("status", ...)
	ExtractionDuration metric.Float64Histogram

	// CommandDuration tracks slash command handling latency. Use with
	// attributes: attribute.String("command", ...), attribute.String("status", ...)
	CommandDuration metric.Float64Histogram

	// --- Counters ---

	// TracksStarted counts tracks handed to a voice transport.
	TracksStarted metric.Int64Counter

	// TrackFailures counts tracks that failed to start or to play. Use with
	// attribute: attribute.String("kind", ...) (spawn, playback, empty)
	TrackFailures metric.Int64Counter

	// VolumeChanges counts volume changes. Use with attribute:
	//   attribute.String("mode", ...) (live, rebuild)
	VolumeChanges metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live playback sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedTracks tracks the number of tracks waiting across all sessions.
	QueuedTracks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration times requests to the health and metrics
	// listener, by method, route (see [Route]) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast command handling and slow remote extraction.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExtractionDuration, err = m.Float64Histogram("tourbot.extraction.duration",
		metric.WithDescription("Latency of track metadata extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("tourbot.command.duration",
		metric.WithDescription("Latency of slash command handling by command and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TracksStarted, err = m.Int64Counter("tourbot.tracks.started",
		metric.WithDescription("Total tracks handed to a voice transport."),
	); err != nil {
		return nil, err
	}
	if met.TrackFailures, err = m.Int64Counter("tourbot.tracks.failures",
		metric.WithDescription("Total tracks that failed to start or play, by kind."),
	); err != nil {
		return nil, err
	}
	if met.VolumeChanges, err = m.Int64Counter("tourbot.volume.changes",
		metric.WithDescription("Total volume changes by application mode."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tourbot.active_sessions",
		metric.WithDescription("Number of live playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedTracks, err = m.Int64UpDownCounter("tourbot.queued_tracks",
		metric.WithDescription("Number of tracks waiting in queues across all sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tourbot.http.request.duration",
		metric.WithDescription("Health and metrics listener latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordExtraction records the latency and outcome of one extraction.
func (m *Metrics) RecordExtraction(ctx context.Context, status string, d time.Duration) {
	m.ExtractionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCommand records the latency and outcome of one slash command.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, d time.Duration) {
	m.CommandDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

// RecordTrackStarted increments the started-tracks counter.
func (m *Metrics) RecordTrackStarted(ctx context.Context) {
	m.TracksStarted.Add(ctx, 1)
}

// RecordTrackFailure increments the track failure counter for kind.
func (m *Metrics) RecordTrackFailure(ctx context.Context, kind string) {
	m.TrackFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordVolumeChange increments the volume change counter for mode.
func (m *Metrics) RecordVolumeChange(ctx context.Context, mode string) {
	m.VolumeChanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}
