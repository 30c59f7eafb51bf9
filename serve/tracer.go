package serve

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewTracerProvider builds an OpenTelemetry tracer provider tagged with
// the plugin's service name for use with WithTracerProvider. The exporter
// is the caller's choice; pass it via sdktrace options.
//
// Example:
//
//	tp := serve.NewTracerProvider("kv-plugin", logger, sdktrace.WithBatcher(exporter))
//	defer tp.Shutdown(ctx)
//	serve.Run(ctx, serve.WithTracerProvider(tp))
func NewTracerProvider(serviceName string, logger *slog.Logger, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		logger.Warn("failed to build trace resource, using default", "error", err)
		res = resource.Default()
	}

	opts = append(opts, sdktrace.WithResource(res))
	return sdktrace.NewTracerProvider(opts...)
}
