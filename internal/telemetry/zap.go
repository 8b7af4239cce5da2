package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	// ZapLogger adapts *zap.Logger to the Logger interface.
	ZapLogger struct {
		l *zap.Logger
	}

	// OtelMetrics wraps OTEL metric instruments for runtime instrumentation.
	OtelMetrics struct {
		meter      metric.Meter
		counters   map[string]metric.Float64Counter
		histograms map[string]metric.Float64Histogram
		gauges     map[string]metric.Float64Gauge
	}

	// OtelTracer wraps OTEL tracing.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewZapLogger constructs a Logger backed by the given zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return ZapLogger{l: l}
}

func keyvalsToFields(keyvals []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}

func (z ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.l.Debug(msg, keyvalsToFields(keyvals)...)
}

func (z ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.l.Info(msg, keyvalsToFields(keyvals)...)
}

func (z ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.l.Warn(msg, keyvalsToFields(keyvals)...)
}

func (z ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.l.Error(msg, keyvalsToFields(keyvals)...)
}

// NewOtelMetrics constructs a Metrics recorder on the global MeterProvider.
func NewOtelMetrics(scope string) *OtelMetrics {
	return &OtelMetrics{
		meter:      otel.Meter(scope),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		c, _ = m.meter.Float64Counter(name)
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := m.histograms[name]
	if !ok {
		h, _ = m.meter.Float64Histogram(name)
		m.histograms[name] = h
	}
	h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		g, _ = m.meter.Float64Gauge(name)
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// NewOtelTracer constructs a Tracer on the global TracerProvider.
func NewOtelTracer(scope string) *OtelTracer {
	return &OtelTracer{tracer: otel.Tracer(scope)}
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (s otelSpan) End(opts ...trace.SpanEndOption)             { s.span.End(opts...) }
func (s otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func (s otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
