package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// Metrics implements quotawatch.Metrics using Prometheus.
type Metrics struct {
	refreshDuration   *prometheus.HistogramVec
	refreshErrors     *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	pollCycleDuration prometheus.Histogram
	historyOpDuration *prometheus.HistogramVec
	historyOpErrors   *prometheus.CounterVec
	percentRemaining  *prometheus.GaugeVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		refreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Latency of provider refreshes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		refreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_errors_total",
			Help:      "Total number of failed provider refreshes.",
		}, []string{"provider", "code"}),

		statusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of provider status transitions.",
		}, []string{"provider", "from", "to"}),

		pollCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Latency of full polling cycles.",
			Buckets:   prometheus.DefBuckets,
		}),

		historyOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_operation_duration_seconds",
			Help:      "Latency of history store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		historyOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_operation_errors_total",
			Help:      "Total number of history store operation errors.",
		}, []string{"operation"}),

		percentRemaining: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "percent_remaining",
			Help:      "Latest remaining percentage per quota.",
		}, []string{"provider", "kind"}),
	}
}

func (m *Metrics) RecordRefresh(providerID string, duration time.Duration, err error) {
	m.refreshDuration.WithLabelValues(providerID).Observe(duration.Seconds())
	if err != nil {
		m.refreshErrors.WithLabelValues(providerID, quotawatch.ErrorCode(err)).Inc()
	}
}

func (m *Metrics) RecordStatusTransition(providerID string, previous, current quotawatch.Status) {
	m.statusTransitions.WithLabelValues(providerID, previous.String(), current.String()).Inc()
}

func (m *Metrics) RecordPollCycle(duration time.Duration) {
	m.pollCycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordHistoryOperation(operation string, duration time.Duration, err error) {
	m.historyOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.historyOpErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) SetPercentRemaining(providerID, kind string, percent float64) {
	m.percentRemaining.WithLabelValues(providerID, kind).Set(percent)
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
