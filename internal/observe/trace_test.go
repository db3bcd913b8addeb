package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer replaces the global tracer provider with one recording into
// an in-memory exporter. Tests using it must not run in parallel.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_ExtractionSpan(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "extract.ytdlp",
		attribute.String("extract.backend", "ytsearch"),
		attribute.Bool("extract.is_url", false),
	)
	if TraceID(ctx) == "" {
		t.Error("span context has no trace ID")
	}
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "extract.ytdlp" {
		t.Errorf("span name = %q, want extract.ytdlp", got.Name)
	}
	if got.InstrumentationScope.Name != ScopeName {
		t.Errorf("scope = %q, want %q", got.InstrumentationScope.Name, ScopeName)
	}
	if got.Status.Code != codes.Unset {
		t.Errorf("status = %v, want unset", got.Status.Code)
	}
	var backend string
	for _, kv := range got.Attributes {
		if kv.Key == "extract.backend" {
			backend = kv.Value.AsString()
		}
	}
	if backend != "ytsearch" {
		t.Errorf("extract.backend = %q, want ytsearch", backend)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := installTracer(t)

	_, span := StartSpan(context.Background(), "discord.command")
	EndSpan(span, errors.New("yt-dlp: exit status 1"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "yt-dlp: exit status 1" {
		t.Errorf("status = %+v, want error with the message", spans[0].Status)
	}
	if len(spans[0].Events) == 0 || spans[0].Events[0].Name != "exception" {
		t.Errorf("events = %+v, want a recorded exception", spans[0].Events)
	}
}

func TestTraceID(t *testing.T) {
	installTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID without span = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "extract.ytdlp")
		id := TraceID(ctx)
		EndSpan(span, nil)
		if len(id) != 32 {
			t.Fatalf("TraceID = %q, want 32 hex characters", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace ID %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)

	t.Run("with span", func(t *testing.T) {
		buf := captureLogs(t)
		ctx, span := StartSpan(context.Background(), "discord.command")
		defer EndSpan(span, nil)

		Logger(ctx).Info("music: now playing")
		if !bytes.Contains(buf.Bytes(), []byte("trace_id="+TraceID(ctx))) {
			t.Errorf("log line missing trace_id: %s", buf)
		}
		if !bytes.Contains(buf.Bytes(), []byte("span_id=")) {
			t.Errorf("log line missing span_id: %s", buf)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t)
		Logger(context.Background()).Info("music: now playing")
		if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
			t.Errorf("log line has trace_id without a span: %s", buf)
		}
	})
}
