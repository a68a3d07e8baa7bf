package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	doubtRequestsCreated  *prometheus.CounterVec
	doubtRequestsAccepted prometheus.Counter
	doubtThreadsClosed    prometheus.Counter
	doubtMessagesSent     *prometheus.CounterVec
	doubtCooldownRejected *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	sseClientsActive      prometheus.Gauge
	wsClientsActive       prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentor_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		doubtRequestsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_doubt_requests_created_total",
			Help: "Total number of doubt requests opened, per subject.",
		}, []string{"subject"})

		doubtRequestsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentor_doubt_requests_accepted_total",
			Help: "Total number of doubt requests accepted by mentors.",
		})

		doubtThreadsClosed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentor_doubt_threads_closed_total",
			Help: "Total number of doubt threads closed.",
		})

		doubtMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_doubt_messages_total",
			Help: "Total number of thread messages appended, per sender role.",
		}, []string{"role"})

		doubtCooldownRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_doubt_cooldown_rejected_total",
			Help: "Total number of doubt requests rejected by the cooldown window.",
		}, []string{"subject"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_notifications_published_total",
			Help: "Total number of notifications published, per type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_sse_clients_active",
			Help: "Number of currently connected SSE subscribers.",
		})

		wsClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_ws_clients_active",
			Help: "Number of currently connected websocket thread watchers.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			doubtRequestsCreated,
			doubtRequestsAccepted,
			doubtThreadsClosed,
			doubtMessagesSent,
			doubtCooldownRejected,
			notificationsTotal,
			sseClientsActive,
			wsClientsActive,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// DoubtRequestsCreated exposes the per-subject creation counter.
func DoubtRequestsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return doubtRequestsCreated
}

// DoubtRequestsAccepted exposes the acceptance counter.
func DoubtRequestsAccepted() prometheus.Counter {
	RegisterMetrics()
	return doubtRequestsAccepted
}

// DoubtThreadsClosed exposes the close counter.
func DoubtThreadsClosed() prometheus.Counter {
	RegisterMetrics()
	return doubtThreadsClosed
}

// DoubtMessagesSent exposes the per-role message counter.
func DoubtMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return doubtMessagesSent
}

// DoubtCooldownRejected exposes the cooldown rejection counter.
func DoubtCooldownRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return doubtCooldownRejected
}

// NotificationsPublishedTotal exposes the per-type notification counter.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// SSEClientsActive exposes the gauge of open SSE streams.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// WSClientsActive exposes the gauge of open websocket connections.
func WSClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return wsClientsActive
}
