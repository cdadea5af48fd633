// Package observability wires OpenTelemetry tracing and metrics, and the
// Server-Timing header, into payload reads.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "odata-formatter"

	instrumentationName = "github.com/nlstn/go-odata-formatter"
)

// Config holds the observability configuration of a formatter.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger
	serverTiming   bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the tracer provider. Without one, tracing is a no-op.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Without one, metrics are a no-op.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithServerTiming records read durations in the Server-Timing header carried
// by the request context.
func WithServerTiming() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig creates a Config. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewNoopConfig returns an initialized Config that records nothing.
func NewNoopConfig() *Config {
	tp := tracenoop.NewTracerProvider()
	return &Config{
		tracerProvider: tp,
		meterProvider:  metricnoop.NewMeterProvider(),
		serviceName:    DefaultServiceName,
		logger:         slog.Default(),
		tracer:         newTracer(tp.Tracer(instrumentationName), DefaultServiceName),
		metrics: &Metrics{
			reads:    metricnoop.Int64Counter{},
			errors:   metricnoop.Int64Counter{},
			duration: metricnoop.Float64Histogram{},
		},
	}
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.tracer = newTracer(c.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(c.serviceVersion)), c.serviceName)

	metrics, err := newMetrics(c.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(c.serviceVersion)))
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}
	c.metrics = metrics
	return nil
}

// Tracer returns the read tracer. Initialize must have been called.
func (c *Config) Tracer() *Tracer { return c.tracer }

// Metrics returns the read metrics. Initialize must have been called.
func (c *Config) Metrics() *Metrics { return c.metrics }

// ServerTimingEnabled reports whether Server-Timing metrics are recorded.
func (c *Config) ServerTimingEnabled() bool { return c.serverTiming }

func (c *Config) ServiceName() string { return c.serviceName }

func (c *Config) Logger() *slog.Logger { return c.logger }
