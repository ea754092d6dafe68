package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordersync/internal/api"
	"ordersync/internal/metrics"
)

func main() {
	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Orders
	mux.HandleFunc("/v1/orders", srvDeps.OrdersHandler)
	mux.HandleFunc("/v1/orders/", srvDeps.OrderByIDHandler) // includes /status, /events/stream, /notifications
	mux.HandleFunc("/v1/orders/events/ws", srvDeps.OrderEventsWSHandler)

	// Sync controls
	mux.HandleFunc("/v1/sync/force", srvDeps.SyncForceHandler)
	mux.HandleFunc("/v1/sync/status", srvDeps.SyncStatusHandler)

	// Admin
	mux.HandleFunc("/v1/admin/status-mappings", srvDeps.StatusMappingsHandler)
	mux.HandleFunc("/v1/admin/orders/failed", srvDeps.FailedOrdersHandler)
	mux.HandleFunc("/v1/admin/orders/", srvDeps.RedispatchHandler) // /{id}/redispatch

	// Health, version, metrics
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/version", srvDeps.VersionHandler)
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	srvDeps.Scheduler.Start()
	defer srvDeps.Scheduler.Stop()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
