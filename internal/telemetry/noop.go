package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoopLogger discards everything. Used where a component requires a Logger
// but the caller has not wired one (e.g. the in-memory engine).
type NoopLogger struct{}

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, float64, ...string)         {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string)  {}
func (NoopMetrics) RecordGauge(string, float64, ...string)        {}

// NoopTracer produces spans that record nothing.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// NoopSpan discards everything.
type NoopSpan struct{}

func (NoopSpan) End(...trace.SpanEndOption)                  {}
func (NoopSpan) AddEvent(string, ...any)                      {}
func (NoopSpan) SetStatus(codes.Code, string)                 {}
func (NoopSpan) RecordError(error, ...trace.EventOption)      {}
