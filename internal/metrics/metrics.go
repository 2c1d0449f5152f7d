package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Launchpad/internal/events"
)

const namespace = "launchpad"

var (
	// Registry holds the node's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "transactions_total",
			Help:      "Transactions executed by the host, by operation and outcome.",
		},
		[]string{"op", "status"},
	)

	emitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "events_total",
			Help:      "Committed contract events by name.",
		},
		[]string{"name"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "claims_total",
			Help:      "Claim attempts by result (ok or the rejection kind).",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		transactions,
		emitted,
		claims,
		httpRequests,
		httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveTransaction counts one host transaction.
func ObserveTransaction(op string, committed bool) {
	status := "reverted"
	if committed {
		status = "committed"
	}

	transactions.WithLabelValues(op, status).Inc()
}

// ObserveEvents counts committed events by name.
func ObserveEvents(evs []events.Event) {
	for _, ev := range evs {
		emitted.WithLabelValues(ev.Name).Inc()
	}
}

// ObserveClaim counts a claim attempt; result is "ok" or an error kind.
func ObserveClaim(result string) {
	claims.WithLabelValues(result).Inc()
}

// ObserveHTTP records one handled request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
