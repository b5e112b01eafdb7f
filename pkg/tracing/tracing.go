// Package tracing configures OpenTelemetry tracing and offers span helpers.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/duel/pkg/logger"
)

const (
	tracerName      = "github.com/okian/duel"
	exporterTimeout = 10 * time.Second
	batchTimeout    = 5 * time.Second
)

// Error constants.
var (
	ErrServiceName  = errors.New("service name is required")
	ErrSampleRatio  = errors.New("sample ratio must be between 0 and 1")
	ErrExporterInit = errors.New("trace exporter init failed")
)

// Config holds the tracing configuration.
type Config struct {
	ServiceName string
	Enabled     bool
	Endpoint    string // host:port of an OTLP/HTTP collector
	Insecure    bool
	SampleRatio float64
}

// Provider owns the SDK tracer provider when tracing is enabled.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a global tracer provider. When disabled it returns a
// provider whose Shutdown is a no-op and the global no-op tracer stays in place.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	log := logger.OrNop().Named("tracing")
	if !cfg.Enabled {
		log.Info(ctx, "tracing disabled")
		return &Provider{}, nil
	}
	if cfg.ServiceName == "" {
		return nil, ErrServiceName
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("%w: got %f", ErrSampleRatio, cfg.SampleRatio)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	ectx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()
	exporter, err := otlptracehttp.New(ectx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExporterInit, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing initialized",
		logger.String("endpoint", cfg.Endpoint),
		logger.Float64("sampleRatio", cfg.SampleRatio))
	return &Provider{tp: tp}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan starts a span on the global provider. The returned function
// ends it and records err when non-nil.
//
//	ctx, end := tracing.StartSpan(ctx, "ledger.resolve")
//	defer func() { end(err) }()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
