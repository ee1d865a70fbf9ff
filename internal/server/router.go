// Package server wires HTTP routes and owns the app composition for the
// serve command.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stormwatch-systems/stormwatch/internal/handlers"
)

// NewRouter wires HTTP routes for the map service.
func NewRouter(events *handlers.EventsHandler, health *handlers.HealthHandler, stream *handlers.StreamHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", events.List)
	mux.HandleFunc("/api/v1/events/region", events.Region)
	mux.HandleFunc("/api/v1/events/", events.Get)
	mux.HandleFunc("/api/v1/stream", stream.Stream)
	mux.HandleFunc("/healthz", health.Health)
	mux.HandleFunc("/readyz", health.Ready)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
