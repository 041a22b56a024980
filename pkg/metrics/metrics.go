package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProxiedRequests counts forwarded requests by response status class.
	ProxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_requests_total",
		Help: "Proxied requests by status class.",
	}, []string{"status"})

	// RateLimitDenials counts requests rejected by the token buckets.
	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_rate_limit_denials_total",
		Help: "Requests denied by the per-key rate limiter.",
	})

	// AuthFailures counts requests rejected by the auth gate.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_auth_failures_total",
		Help: "Requests rejected for missing or ineffective API keys.",
	})

	// BackendLatency observes backend round-trip time in seconds.
	BackendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxy_backend_latency_seconds",
		Help:    "Latency of forwarded backend calls.",
		Buckets: prometheus.DefBuckets,
	})

	// PaymentOutcomes counts completePayment results by outcome label.
	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Payment completion outcomes.",
	}, []string{"outcome"})
)

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
