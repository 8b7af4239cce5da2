package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the process-wide trace and metric providers.
type Shutdown func(context.Context) error

// InitProviders installs an SDK-backed TracerProvider and MeterProvider as
// the OTEL globals for the given service name. Exporters are added by
// wrapping the returned providers with otel/exporters packages at deploy
// time; by default spans and metrics are recorded but not exported, so
// NewOtelTracer and NewOtelMetrics always have a live provider to draw from
// instead of the SDK's no-op fallback.
func InitProviders(ctx context.Context, serviceName string) (Shutdown, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
