package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	orchestratorVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "landale",
			Name:      "orchestrator_version",
			Help:      "Current state version.",
		},
	)
	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "landale",
			Name:      "admissions_total",
			Help:      "Content admission decisions by priority band.",
		},
		[]string{"band", "result"},
	)
	expirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "landale",
			Name:      "expirations_total",
			Help:      "Interrupts ended by their expiry timer.",
		},
		[]string{"band"},
	)
	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "landale",
			Name:      "queue_pending",
			Help:      "Items waiting for admission.",
		},
	)
	liveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "landale",
			Name:      "live_timers",
			Help:      "Scheduled expiry timers.",
		},
	)
	publisherDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "landale",
			Name:      "publisher_dropped_total",
			Help:      "Messages dropped or subscribers disconnected under backpressure.",
		},
		[]string{"reason"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "landale",
			Name:      "subscribers",
			Help:      "Connected overlay subscribers.",
		},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "landale",
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Control socket commands by result code.",
		},
		[]string{"command", "code"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "landale",
			Subsystem: "control",
			Name:      "command_duration_seconds",
			Help:      "Control socket command handling time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "landale",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "landale",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			orchestratorVersion, admissions, expirations, queuePending,
			liveTimers, publisherDropped, subscribers, controlCommands, controlDuration,
			httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func SetVersion(v uint64) {
	RegisterMetrics()
	orchestratorVersion.Set(float64(v))
}

func RecordAdmission(band, result string) {
	RegisterMetrics()
	admissions.WithLabelValues(band, result).Inc()
}

func RecordExpiration(band string) {
	RegisterMetrics()
	expirations.WithLabelValues(band).Inc()
}

func SetQueuePending(n int) {
	RegisterMetrics()
	queuePending.Set(float64(n))
}

func SetLiveTimers(n int) {
	RegisterMetrics()
	liveTimers.Set(float64(n))
}

func RecordPublisherDrop(reason string) {
	RegisterMetrics()
	publisherDropped.WithLabelValues(reason).Inc()
}

func SetSubscribers(n int) {
	RegisterMetrics()
	subscribers.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordControlCommand(command, code string, duration time.Duration) {
	RegisterMetrics()
	controlCommands.WithLabelValues(command, code).Inc()
	controlDuration.WithLabelValues(command).Observe(duration.Seconds())
}
