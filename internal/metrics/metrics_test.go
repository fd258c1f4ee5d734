package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/testutil/mocks"
)

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.RecordOperation("confirm_recovery", "applied", 3*time.Millisecond)
	p.RecordOperation("confirm_recovery", "applied", time.Millisecond)
	p.RecordOperation("confirm_recovery", "rejected", time.Millisecond)
	p.RecordConfirmation(values.MustNewWeightFromString("2.01"))
	p.RecordRecoveryClosed(recovery.StatusExecuted)
	p.RecordSlash(15)
	p.RecordSlash(5)
	p.RecordPayoutFailure()
	p.RecordHTTPRequest("POST", "/v1/recoveries", 201, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.operations.WithLabelValues("confirm_recovery", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.operations.WithLabelValues("confirm_recovery", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.recoveriesClosed.WithLabelValues("executed")))
	assert.Equal(t, 20.0, testutil.ToFloat64(p.slashedStake))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.payoutFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpRequests.WithLabelValues("POST", "/v1/recoveries", "201")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.confirmationWeight))
}

func TestPrometheus_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg)
	assert.Panics(t, func() { NewPrometheus(reg) })
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRegistry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := NewRegistry(provider.Meter("test"))
	require.NoError(t, err)

	r.RecordOperation("enroll_guardian", "applied", 2*time.Millisecond)
	r.RecordOperation("enroll_guardian", "applied", 4*time.Millisecond)
	r.RecordRecoveryClosed(recovery.StatusCancelled)
	r.RecordSlash(30)
	r.RecordPayoutFailure()
	r.RecordConfirmation(values.NewWeight(3))

	got := collect(t, reader)

	ops := got["guardian.operation.total"].Data.(metricdata.Sum[int64])
	require.Len(t, ops.DataPoints, 1)
	assert.Equal(t, int64(2), ops.DataPoints[0].Value)
	op, ok := ops.DataPoints[0].Attributes.Value(attribute.Key("operation"))
	require.True(t, ok)
	assert.Equal(t, "enroll_guardian", op.AsString())

	closed := got["guardian.recovery.closed_total"].Data.(metricdata.Sum[int64])
	require.Len(t, closed.DataPoints, 1)
	status, _ := closed.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "cancelled", status.AsString())

	slashed := got["guardian.stake.slashed_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(30), slashed.DataPoints[0].Value)

	durations := got["guardian.operation.duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, durations.DataPoints, 1)
	assert.Equal(t, uint64(2), durations.DataPoints[0].Count)
	assert.InDelta(t, 6.0, durations.DataPoints[0].Sum, 1e-9)

	weights := got["guardian.recovery.confirmation_weight"].Data.(metricdata.Histogram[float64])
	assert.InDelta(t, 3.0, weights.DataPoints[0].Sum, 1e-9)
}

func TestMulti(t *testing.T) {
	a, b := mocks.NewMetricsRecorder(), mocks.NewMetricsRecorder()
	m := Multi{a, b}

	m.RecordOperation("slash_guardian", "applied", time.Millisecond)
	m.RecordConfirmation(values.NewWeight(1))
	m.RecordRecoveryClosed(recovery.StatusExpired)
	m.RecordSlash(7)
	m.RecordPayoutFailure()

	for _, rec := range []*mocks.MetricsRecorder{a, b} {
		assert.Equal(t, 1, rec.Operations["slash_guardian/applied"])
		assert.Len(t, rec.Confirmations, 1)
		assert.Equal(t, 1, rec.Closed[recovery.StatusExpired])
		assert.Equal(t, values.Amount(7), rec.Slashed)
		assert.Equal(t, 1, rec.PayoutFailures)
	}
}
