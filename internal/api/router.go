// Package api assembles the HTTP surface: manual job triggers, run history,
// device token management, health and metrics.
package api

import (
	"net/http"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/api/handlers"
	"github.com/dvloznov/budget-tracker/internal/api/middleware"
)

// RouterConfig holds what the router serves.
type RouterConfig struct {
	Jobs     *handlers.JobsHandler
	Devices  *handlers.DevicesHandler
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Log      zerolog.Logger
}

// NewRouter registers every route and wraps the mux in the middleware
// chain.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	// Jobs endpoints
	mux.HandleFunc("POST /api/jobs/{job}/run", func(w http.ResponseWriter, r *http.Request) {
		cfg.Jobs.RunJob(w, r, r.PathValue("job"))
	})
	mux.HandleFunc("GET /api/jobs/runs", cfg.Jobs.ListRuns)
	mux.HandleFunc("GET /api/jobs/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		cfg.Jobs.GetRun(w, r, r.PathValue("id"))
	})

	// Device endpoints
	mux.HandleFunc("GET /api/users/{userID}/devices", func(w http.ResponseWriter, r *http.Request) {
		cfg.Devices.ListDevices(w, r, r.PathValue("userID"))
	})
	mux.HandleFunc("POST /api/users/{userID}/devices", func(w http.ResponseWriter, r *http.Request) {
		cfg.Devices.RegisterDevice(w, r, r.PathValue("userID"))
	})
	mux.HandleFunc("POST /api/users/{userID}/devices/cleanup", func(w http.ResponseWriter, r *http.Request) {
		cfg.Devices.CleanupDevices(w, r, r.PathValue("userID"))
	})
	mux.HandleFunc("DELETE /api/users/{userID}/devices/{token}", func(w http.ResponseWriter, r *http.Request) {
		cfg.Devices.RemoveDevice(w, r, r.PathValue("userID"), r.PathValue("token"))
	})

	mux.HandleFunc("GET /health", handlers.Health(cfg.Clock))
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return middleware.Chain(mux,
		middleware.Recovery(cfg.Log),
		middleware.RequestID,
		middleware.Logger(cfg.Log),
		middleware.CORS,
	)
}
