//go:build linux

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"henkan/internal/health"
	"henkan/internal/ime"
	"henkan/internal/metrics"
)

// newRouter serves the engine's metrics and its health routes. The health
// body carries the engine state.
func newRouter(reg *prometheus.Registry, checker *health.Checker, engine *ime.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler(reg))
	checker.Routes(r, func() map[string]any {
		return map[string]any{
			"version": version,
			"active":  engine.Active(),
			"mode":    engine.Mode().String(),
		}
	})
	return r
}
