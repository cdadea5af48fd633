package observability

import (
	"context"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric tracks one Server-Timing entry. The zero metric returned
// when the context carries no timing header is safe to stop.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop ends the metric.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// StartServerTiming starts a metric named name in the Server-Timing header of
// ctx.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	header := servertiming.FromContext(ctx)
	if header == nil {
		return &ServerTimingMetric{}
	}
	metric := header.NewMetric(name)
	if description != "" {
		metric = metric.WithDesc(description)
	}
	return &ServerTimingMetric{metric: metric.Start()}
}

// WithServerTimingHeader returns a context carrying a fresh Server-Timing
// header, for callers outside an HTTP middleware.
func WithServerTimingHeader(ctx context.Context) (context.Context, *servertiming.Header) {
	header := &servertiming.Header{}
	return servertiming.NewContext(ctx, header), header
}
