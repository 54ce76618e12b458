package queue

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/rcliao/memory-relay/internal/queue"

// Outcome attribute values.
const (
	outcomeStored   = "stored"
	outcomeRejected = "rejected"
	outcomeQueued   = "queued"
	outcomeFailed   = "failed"
)

// Metrics holds the queue's OpenTelemetry instruments.
type Metrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
}

// NewMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. Without a configured provider they are no-ops.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &Metrics{}
	var err error
	m.attempts, err = meter.Int64Counter("relay.queue.attempts",
		metric.WithDescription("Remote memory write attempts"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		m.attempts = noop.Int64Counter{}
	}
	m.outcomes, err = meter.Int64Counter("relay.queue.outcomes",
		metric.WithDescription("Resolved queue items by outcome"),
		metric.WithUnit("{item}"))
	if err != nil {
		m.outcomes = noop.Int64Counter{}
	}
	return m
}

func (m *Metrics) attempt(ctx context.Context) {
	m.attempts.Add(ctx, 1)
}

func (m *Metrics) outcome(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
