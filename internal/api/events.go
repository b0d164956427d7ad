package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tagtrace/tagtrace-core/internal/event"
)

// handleListEvents returns events matching the query filters, newest
// first.
//
// Query parameters:
//   - type: filter by event type (battery_low, theft_suspect, ...)
//   - severity: filter by severity (info, warn, critical)
//   - unresolved: "true" to return only unresolved events
//   - since: RFC 3339 lower time bound
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := event.Filter{
		StoreID:    s.registry.StoreID(),
		Type:       q.Get("type"),
		Severity:   q.Get("severity"),
		Unresolved: q.Get("unresolved") == "true",
	}

	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "invalid since parameter: "+err.Error())
			return
		}
		filter.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid offset parameter")
			return
		}
		filter.Offset = offset
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleResolveEvent marks an event as handled. Resolving an already
// resolved event is a conflict, so duplicate operator action surfaces.
func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Resolve(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}
