package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded for every read.
type Metrics struct {
	reads    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	reads, err := meter.Int64Counter("odata.reads",
		metric.WithDescription("Number of payload reads"),
		metric.WithUnit("{read}"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("odata.read.errors",
		metric.WithDescription("Number of payload reads that failed"),
		metric.WithUnit("{read}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("odata.read.duration",
		metric.WithDescription("Duration of payload reads"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Metrics{reads: reads, errors: errs, duration: duration}, nil
}

// RecordRead records one read of typeName taking d. A non-nil err also
// counts as an error.
func (m *Metrics) RecordRead(ctx context.Context, typeName string, delta bool, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		AttrTypeName.String(typeName),
		AttrDelta.Bool(delta),
	)
	m.reads.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("error.type", errorType(err))))
	}
}

// errorType names the sentinel kind of err for the error.type attribute.
func errorType(err error) string {
	type kinded interface{ ErrorKind() string }
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return "other"
}
