package metrics

import (
	"strconv"
	"time"

	"cptrack/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cptrack"

// Metrics holds the Prometheus collectors of the sync queue and the HTTP API.
// It satisfies syncqueue.Recorder.
type Metrics struct {
	OperationsEnqueued *prometheus.CounterVec
	OperationsRetried  *prometheus.CounterVec
	OperationsFailed   *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec

	QueueSize        prometheus.Gauge
	FailedOperations prometheus.Gauge
	Online           prometheus.Gauge
	Syncing          prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_enqueued_total",
			Help:      "Operations added to the sync queue.",
		}, []string{"kind", "priority"}),

		OperationsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_retried_total",
			Help:      "Failed attempts that were scheduled for another try.",
		}, []string{"kind"}),

		OperationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_failed_total",
			Help:      "Operations moved to the failed set.",
		}, []string{"kind"}),

		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_handler_duration_seconds",
			Help:      "Time spent in successful handler calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_size",
			Help:      "Pending plus in-flight operations.",
		}),

		FailedOperations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_failed_operations",
			Help:      "Operations waiting in the failed set.",
		}),

		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_online",
			Help:      "1 when the upstream is considered reachable.",
		}),

		Syncing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_draining",
			Help:      "1 while the drain loop is running.",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) OperationEnqueued(kind string, priority models.Priority) {
	m.OperationsEnqueued.WithLabelValues(kind, string(priority)).Inc()
}

func (m *Metrics) OperationCompleted(kind string, took time.Duration) {
	m.HandlerDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) OperationRetried(kind string) {
	m.OperationsRetried.WithLabelValues(kind).Inc()
}

func (m *Metrics) OperationFailed(kind string) {
	m.OperationsFailed.WithLabelValues(kind).Inc()
}

// ObserveStatus copies a queue snapshot into the gauges. It is meant to be
// subscribed with Manager.OnStatusChange.
func (m *Metrics) ObserveStatus(s models.StatusSnapshot) {
	m.QueueSize.Set(float64(s.QueueSize))
	m.FailedOperations.Set(float64(s.FailedOperations))
	m.Online.Set(boolGauge(s.IsOnline))
	m.Syncing.Set(boolGauge(s.IsSyncing))
}

// IncHTTP counts one request served on route.
func (m *Metrics) IncHTTP(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
