// Package telemetry provides the structured logging and tracing helpers
// shared by every component. Logging follows the teacher's
// "category.event", key, value... convention (see goclaw's
// internal/channels/manager.go); tracing goes through the global otel API.
// This module installs no SDK tracer provider or exporter, so spans are
// no-ops unless the embedding process registers a provider.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds the process-wide slog.Logger. JSON output is used by
// default; dev mode swaps in a text handler for local readability.
func NewLogger(dev bool) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// tracerName is the package path used to name spans; components call
// Tracer() rather than otel.Tracer directly so a no-op tracer is returned
// when no SDK provider was configured (the default; nothing here sets one).
const tracerName = "github.com/kulesh/catsyphon-sub001"

// Tracer returns the shared tracer. With no provider registered (the
// default), otel.Tracer returns a no-op implementation, so every span
// start/end below is always safe to call.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named op and returns the derived context and an
// end function. Callers defer the end function.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// Attr builds a string-valued span attribute. The ingestion core only ever
// tags spans with a handful of scalar fields (conversation id, file path,
// stage name), so a single string-keyed helper covers every call site.
func Attr(key, val string) attribute.KeyValue { return attribute.String(key, val) }
