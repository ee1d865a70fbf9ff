// Package handlers implements the HTTP API: event snapshots, region
// queries, health probes, and the live delta stream.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stormwatch-systems/stormwatch/internal/store"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// EventsHandler serves the polling API over the event store.
type EventsHandler struct {
	store *store.Store
}

// NewEventsHandler constructs a new handler.
func NewEventsHandler(st *store.Store) *EventsHandler {
	return &EventsHandler{store: st}
}

// EventsResponse wraps a list of active events.
type EventsResponse struct {
	Events []*model.AttackEvent `json:"events"`
	Count  int                  `json:"count"`
}

// List handles GET /api/v1/events.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	events := h.store.Snapshot()
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

// Region handles GET /api/v1/events/region with min_lat, min_lon, max_lat,
// max_lon query parameters. A box whose min_lon exceeds max_lon crosses the
// antimeridian.
func (h *EventsHandler) Region(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	box, err := parseBox(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_region", err.Error())
		return
	}

	events := h.store.QueryRegion(box)
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

// Get handles GET /api/v1/events/{id}.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown event")
		return
	}

	ev, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func parseBox(r *http.Request) (model.BoundingBox, error) {
	var box model.BoundingBox
	var err error
	q := r.URL.Query()
	if box.MinLat, err = parseCoord(q.Get("min_lat"), -90, 90); err != nil {
		return box, err
	}
	if box.MaxLat, err = parseCoord(q.Get("max_lat"), -90, 90); err != nil {
		return box, err
	}
	if box.MinLon, err = parseCoord(q.Get("min_lon"), -180, 180); err != nil {
		return box, err
	}
	if box.MaxLon, err = parseCoord(q.Get("max_lon"), -180, 180); err != nil {
		return box, err
	}
	if box.MinLat > box.MaxLat {
		return box, errInvalidCoord("min_lat exceeds max_lat")
	}
	return box, nil
}

type coordError string

func errInvalidCoord(msg string) error { return coordError(msg) }

func (e coordError) Error() string { return string(e) }

func parseCoord(raw string, min, max float64) (float64, error) {
	if raw == "" {
		return 0, errInvalidCoord("missing coordinate parameter")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errInvalidCoord("coordinate is not a number")
	}
	if v < min || v > max {
		return 0, errInvalidCoord("coordinate out of range")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	type errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}
