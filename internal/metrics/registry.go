// Package metrics implements the protocol's metrics collectors on top of
// OpenTelemetry and Prometheus.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

var _ protocol.MetricsCollector = (*Registry)(nil)

// Registry holds the recovery protocol instruments of one OTel meter
type Registry struct {
	meter metric.Meter

	// Protocol operations
	OperationDuration metric.Float64Histogram
	OperationCounter  metric.Int64Counter

	// Recovery lifecycle
	ConfirmationWeight metric.Float64Histogram
	RecoveryClosed     metric.Int64Counter

	// Stake and fees
	SlashedStake   metric.Int64Counter
	PayoutFailures metric.Int64Counter

	// API
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter
}

// NewRegistry creates every instrument on meter
func NewRegistry(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initProtocolMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initProtocolMetrics() error {
	var err error

	r.OperationDuration, err = r.meter.Float64Histogram(
		"guardian.operation.duration",
		metric.WithDescription("Duration of protocol operations in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000),
	)
	if err != nil {
		return err
	}

	r.OperationCounter, err = r.meter.Int64Counter(
		"guardian.operation.total",
		metric.WithDescription("Protocol operations by outcome"),
	)
	if err != nil {
		return err
	}

	r.ConfirmationWeight, err = r.meter.Float64Histogram(
		"guardian.recovery.confirmation_weight",
		metric.WithDescription("Weight contributed by accepted confirmations"),
		metric.WithExplicitBucketBoundaries(1, 1.5, 2, 3, 5, 8, 13, 21),
	)
	if err != nil {
		return err
	}

	r.RecoveryClosed, err = r.meter.Int64Counter(
		"guardian.recovery.closed_total",
		metric.WithDescription("Recovery requests reaching a terminal status"),
	)
	if err != nil {
		return err
	}

	r.SlashedStake, err = r.meter.Int64Counter(
		"guardian.stake.slashed_total",
		metric.WithDescription("Stake removed by slashing"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	r.PayoutFailures, err = r.meter.Int64Counter(
		"guardian.fee.payout_failures_total",
		metric.WithDescription("Fee shares that could not be paid to a guardian"),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"guardian.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"guardian.api.request_total",
		metric.WithDescription("API requests by route and status"),
	)
	return err
}

func (r *Registry) RecordOperation(op, outcome string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	r.OperationDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	r.OperationCounter.Add(ctx, 1, attrs)
}

func (r *Registry) RecordConfirmation(weight values.Weight) {
	r.ConfirmationWeight.Record(context.Background(), weight.Float64())
}

func (r *Registry) RecordRecoveryClosed(status recovery.Status) {
	r.RecoveryClosed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", string(status))))
}

func (r *Registry) RecordSlash(amount values.Amount) {
	r.SlashedStake.Add(context.Background(), amount.Int64())
}

func (r *Registry) RecordPayoutFailure() {
	r.PayoutFailures.Add(context.Background(), 1)
}

// RecordHTTPRequest records one served HTTP request
func (r *Registry) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	ctx := context.Background()
	r.APIRequestDuration.Record(ctx, float64(duration.Microseconds())/1000,
		metric.WithAttributes(attribute.String("route", route)))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
