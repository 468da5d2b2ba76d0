// Package metrics provides Prometheus instrumentation for the abuse mitigation engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abusegate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abusegate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// VerdictsTotal counts enforcement verdicts by outcome and scope.
	// outcome is "allowed" or "blocked"; scope is "ip", "country", or "none".
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abusegate",
			Name:      "verdicts_total",
			Help:      "Total enforcement verdicts by outcome and block scope.",
		},
		[]string{"outcome", "scope"},
	)

	// ExpiredBlocksDeleted counts lazily or sweeper-deleted expired block records.
	ExpiredBlocksDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abusegate",
			Name:      "expired_blocks_deleted_total",
			Help:      "Expired block records removed, by trigger (lazy, sweep).",
		},
		[]string{"trigger"},
	)

	// FailOpensTotal counts lookups that failed open after a store timeout.
	// Repeated fail-opens indicate store trouble; operators alert on this.
	FailOpensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "abusegate",
		Name:      "fail_opens_total",
		Help:      "Enforcement lookups that failed open due to a store timeout.",
	})

	// SignalsIngestedTotal counts accepted ingestion payloads by kind.
	SignalsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abusegate",
			Name:      "signals_ingested_total",
			Help:      "Total accepted signal payloads by kind (fingerprint, biometrics).",
		},
		[]string{"kind"},
	)

	// BanEvasionDetectedTotal counts ban-evasion correlation hits.
	BanEvasionDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "abusegate",
		Name:      "ban_evasion_detected_total",
		Help:      "Fingerprint submissions matching a previously flagged device.",
	})

	// CorrelationFailuresTotal counts degraded-mode correlation lookups.
	CorrelationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "abusegate",
		Name:      "correlation_failures_total",
		Help:      "Ban-evasion lookups that failed and were treated as no match.",
	})

	// HighBotScoresTotal counts biometrics samples at or above the review threshold.
	HighBotScoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "abusegate",
		Name:      "high_bot_scores_total",
		Help:      "Biometrics samples with botLikelihoodScore >= 70.",
	})

	// ActiveWebSocketClients tracks connected review-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "abusegate",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VerdictsTotal,
		ExpiredBlocksDeleted,
		FailOpensTotal,
		SignalsIngestedTotal,
		BanEvasionDetectedTotal,
		CorrelationFailuresTotal,
		HighBotScoresTotal,
		ActiveWebSocketClients,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
