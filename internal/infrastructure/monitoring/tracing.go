package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/pkg/logger"
)

// TracingManager owns the process tracer provider.
// TracingManager 管理 OpenTelemetry 追踪
type TracingManager struct {
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

// NewTracingManager installs an OTLP/HTTP exporter as the global tracer
// provider. When tracing is disabled the global no-op provider stays in place
// and spans cost nothing.
func NewTracingManager(ctx context.Context, cfg config.TracingConfig, svc config.ServiceConfig, log logger.Logger) (*TracingManager, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	log = log.WithComponent("Tracing")
	if !cfg.Enabled {
		log.Info(ctx, "tracing is disabled")
		return &TracingManager{logger: log}, nil
	}

	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	rs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(svc.Name),
		attribute.String("environment", svc.Env),
	)

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(rs),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing initialized", logger.Fields{"endpoint": cfg.OTLPEndpoint, "sample_ratio": ratio})
	return &TracingManager{provider: provider, logger: log}, nil
}

// Enabled reports whether spans are exported.
func (tm *TracingManager) Enabled() bool {
	return tm.provider != nil
}

// Shutdown flushes pending spans.
// Shutdown 关闭追踪管理器
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.Error(ctx, "failed to shutdown tracing provider", err)
		return err
	}
	tm.logger.Info(ctx, "tracing provider shut down")
	return nil
}
