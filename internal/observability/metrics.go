package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relaychat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Chat connections currently in an active session.",
		},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Accepted chat connections by transport.",
		},
		[]string{"transport"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames decoded from or written to chat connections.",
		},
		[]string{"direction", "verb"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "decode_errors_total",
			Help:      "Connections ended by a decode failure.",
		},
		[]string{"kind"},
	)
	laggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "lagged_total",
			Help:      "Lag signals observed by subscribers.",
		},
	)
	skippedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "skipped_messages_total",
			Help:      "Messages dropped for lagging subscribers.",
		},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "Send frames dropped by the per-connection rate limit.",
		},
	)
	publishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "publish_failures_total",
			Help:      "Publishes the relay channel refused.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connectionsActive,
			connectionsTotal,
			framesTotal,
			decodeErrors,
			laggedTotal,
			skippedMessages,
			rateLimited,
			publishFailures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionOpened(transport string) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(transport).Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(direction, verb string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, verb).Inc()
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordLag(skipped uint64) {
	RegisterMetrics()
	laggedTotal.Inc()
	skippedMessages.Add(float64(skipped))
}

func RecordRateLimited() {
	RegisterMetrics()
	rateLimited.Inc()
}

func RecordPublishFailure() {
	RegisterMetrics()
	publishFailures.Inc()
}
