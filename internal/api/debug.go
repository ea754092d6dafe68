package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"ordersync/internal/buildinfo"
)

// VersionHandler handles GET /version
func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":               os.Getenv("PORT"),
			"AUTH_MODE":          os.Getenv("AUTH_MODE"),
			"SYNC_INTERVAL":      s.Cfg.Sync.Interval.Std().String(),
			"COURIER_CONFIGURED": s.Courier != nil,
			"HAS_DATABASE_URL":   os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":      os.Getenv("REDIS_URL") != "",
		},
		"sync": s.Scheduler.Status(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
