package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Requests sent to the commerce backend.",
		},
		[]string{"method", "route", "status"},
	)
	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Commerce backend request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	cartMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "cart",
			Name:      "mutations_total",
			Help:      "Cart mutations by operation and outcome.",
		},
		[]string{"op", "result"},
	)
	checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome and derived order status.",
		},
		[]string{"result", "status"},
	)
	serverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "devbackend",
			Name:      "requests_total",
			Help:      "Requests served by the development backend.",
		},
		[]string{"method", "route", "status"},
	)
	serverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "devbackend",
			Name:      "request_duration_seconds",
			Help:      "Development backend request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RegisterMetrics adds every collector to the default registry. The client
// side ones (backend, cart, checkout) are only visible to the process that
// records them: the devbackend serves the registry on /metrics, a program
// embedding the storefront client has to mount promhttp itself, and the
// one-shot CLI does not expose them.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(backendRequests, backendDuration, cartMutations, checkouts, serverRequests, serverDuration)
	})
}

// RecordBackendRequest records one client call. status is 0 when no response
// was received.
func RecordBackendRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	backendRequests.WithLabelValues(method, route, statusLabel).Inc()
	backendDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

func RecordCartMutation(op, result string) {
	RegisterMetrics()
	cartMutations.WithLabelValues(op, result).Inc()
}

func RecordCheckout(result, status string) {
	RegisterMetrics()
	checkouts.WithLabelValues(result, status).Inc()
}

func RecordServerRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	serverRequests.WithLabelValues(method, route, statusLabel).Inc()
	serverDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
