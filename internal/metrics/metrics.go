package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SyncCycles counts reconciliation cycles by result (ok, error, skipped)
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_cycles_total", Help: "Reconciliation cycles by result."},
		[]string{"result"},
	)
	// SyncCycleDuration tracks reconciliation cycle durations in seconds
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sync_cycle_duration_seconds", Help: "Reconciliation cycle duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
	)
	// SyncOrders counts per-order reconciliation outcomes
	SyncOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_orders_total", Help: "Orders examined by reconciliation, by outcome."},
		[]string{"outcome"},
	)

	// DispatchAttempts counts dispatch outcomes
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_attempts_total", Help: "Courier dispatch attempts by outcome."},
		[]string{"outcome"},
	)

	// CourierRequests counts partner API calls by operation and outcome
	CourierRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_requests_total", Help: "Courier platform calls by operation and outcome."},
		[]string{"op", "outcome"},
	)

	// Notifications counts notification emissions by channel and status
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "Status notifications by channel and status."},
		[]string{"channel", "status"},
	)
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SyncCycles)
		Registry.MustRegister(SyncCycleDuration)
		Registry.MustRegister(SyncOrders)
		Registry.MustRegister(DispatchAttempts)
		Registry.MustRegister(CourierRequests)
		Registry.MustRegister(Notifications)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
