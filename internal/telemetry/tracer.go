package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig controls whether spans are exported and where.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	SampleRatio  float64
}

// TracerProvider wraps the SDK provider so callers have one thing to shut
// down at exit regardless of whether tracing is enabled.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider wires an OTLP/gRPC exporter into a sampled tracer
// provider and installs it as the process-wide default. With tracing
// disabled it still installs the SDK provider configured to never sample,
// so instrumented code paths stay cheap no-ops rather than needing a
// separate code path.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		switch {
		case cfg.SampleRatio >= 1:
			sampler = sdktrace.AlwaysSample()
		case cfg.SampleRatio <= 0:
			sampler = sdktrace.NeverSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if cfg.Enabled {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating otlp/grpc exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}

// Tracer returns a named tracer, e.g. Tracer("booking") or
// Tracer("dispatcher") for span creation within a package.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
