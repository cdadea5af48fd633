package odata

import (
	"context"
	"fmt"

	servertiming "github.com/mitchellh/go-server-timing"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-odata-formatter/internal/observability"
)

// ObservabilityConfig configures tracing, metrics and Server-Timing for reads.
// All providers are optional; when nil, the corresponding feature is a no-op.
type ObservabilityConfig struct {
	// TracerProvider provides the OpenTelemetry tracer. If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider provides the OpenTelemetry meter. If nil, metrics are disabled.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in telemetry data.
	// Defaults to "odata-formatter" if not specified.
	ServiceName string

	// ServiceVersion is reported in telemetry attributes.
	ServiceVersion string

	// EnableServerTiming records read durations in the Server-Timing header
	// carried by the request context, see ServerTimingContext.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the formatter.
// Every Read then starts an "odata.read" span, counts reads and failures by
// error kind and records the read duration.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(...)
//	f.SetObservability(odata.ObservabilityConfig{
//	    TracerProvider: tp,
//	    ServiceName:    "orders-api",
//	    ServiceVersion: "1.0.0",
//	})
func (f *Formatter) SetObservability(cfg ObservabilityConfig) error {
	opts := []observability.Option{}

	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	opts = append(opts, observability.WithLogger(f.logger))

	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	f.observability = obsCfg
	return nil
}

// ServerTimingContext returns a context carrying a new Server-Timing header.
// HTTP handlers typically get one from the go-server-timing middleware instead.
func ServerTimingContext(ctx context.Context) (context.Context, *servertiming.Header) {
	return observability.WithServerTimingHeader(ctx)
}

// ServerTimingMetric is a running Server-Timing entry.
type ServerTimingMetric = observability.ServerTimingMetric

// StartServerTiming starts a named Server-Timing metric. It is a no-op when
// ctx carries no Server-Timing header.
//
//	metric := odata.StartServerTiming(ctx, "db-load")
//	defer metric.Stop()
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return observability.StartServerTiming(ctx, name)
}

// StartServerTimingWithDesc is StartServerTiming with a description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	return observability.StartServerTimingWithDesc(ctx, name, description)
}
