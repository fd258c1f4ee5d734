package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

const namespace = "guardian"

var _ protocol.MetricsCollector = (*Prometheus)(nil)

// Prometheus exposes protocol metrics for scraping
type Prometheus struct {
	operationDuration  *prometheus.HistogramVec
	operations         *prometheus.CounterVec
	confirmationWeight prometheus.Histogram
	recoveriesClosed   *prometheus.CounterVec
	slashedStake       prometheus.Counter
	payoutFailures     prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operation_duration_seconds",
			Help:      "Protocol operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		}, []string{"operation"}),

		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operations_total",
			Help:      "Protocol operations by outcome",
		}, []string{"operation", "outcome"}),

		confirmationWeight: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "confirmation_weight",
			Help:      "Weight contributed by accepted confirmations",
			Buckets:   []float64{1, 1.5, 2, 3, 5, 8, 13, 21},
		}),

		recoveriesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "closed_total",
			Help:      "Recovery requests reaching a terminal status",
		}, []string{"status"}),

		slashedStake: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stake",
			Name:      "slashed_total",
			Help:      "Stake removed by slashing",
		}),

		payoutFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "payout_failures_total",
			Help:      "Fee shares that could not be paid to a guardian",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		}, []string{"method", "route"}),
	}
}

func (p *Prometheus) RecordOperation(op, outcome string, duration time.Duration) {
	p.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
	p.operations.WithLabelValues(op, outcome).Inc()
}

func (p *Prometheus) RecordConfirmation(weight values.Weight) {
	p.confirmationWeight.Observe(weight.Float64())
}

func (p *Prometheus) RecordRecoveryClosed(status recovery.Status) {
	p.recoveriesClosed.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) RecordSlash(amount values.Amount) {
	p.slashedStake.Add(float64(amount.Int64()))
}

func (p *Prometheus) RecordPayoutFailure() {
	p.payoutFailures.Inc()
}

// RecordHTTPRequest records one served HTTP request
func (p *Prometheus) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
