package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

// telemetryFilterFromQuery builds a telemetry filter from URL query
// parameters. Timestamps are RFC 3339.
func (s *Server) telemetryFilterFromQuery(r *http.Request) (telemetry.Filter, error) {
	q := r.URL.Query()
	filter := telemetry.Filter{
		StoreID:   s.registry.StoreID(),
		GatewayID: q.Get("gateway_id"),
		TagID:     q.Get("tag_id"),
		Metric:    q.Get("metric"),
		Ascending: q.Get("order") == "asc",
	}

	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = limit
	}
	return filter, nil
}

// handleQueryTelemetry returns readings matching the query filters.
//
// Query parameters:
//   - tag_id, gateway_id, metric: dimension filters
//   - since, until: RFC 3339 time bounds
//   - order: "asc" for oldest first (default newest first)
//   - limit: page size (default 100, max 1000)
func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	filter, err := s.telemetryFilterFromQuery(r)
	if err != nil {
		writeBadRequest(w, "invalid query parameter: "+err.Error())
		return
	}

	readings, err := s.telemetry.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("telemetry query failed", "error", err)
		writeInternalError(w, "failed to query telemetry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleLatestTelemetry returns the most recent reading for a tag and
// metric, or 404 when the tag has never reported that metric.
func (s *Server) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	tagID := r.URL.Query().Get("tag_id")
	metric := r.URL.Query().Get("metric")
	if tagID == "" || metric == "" {
		writeBadRequest(w, "tag_id and metric query parameters are required")
		return
	}

	reading, err := s.telemetry.Latest(r.Context(), tagID, metric)
	if err != nil {
		s.logger.Error("latest telemetry lookup failed", "error", err)
		writeInternalError(w, "failed to query telemetry")
		return
	}
	if reading == nil {
		writeNotFound(w, "no readings for tag and metric")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleTagTelemetry returns recent readings for one tag, newest first.
func (s *Server) handleTagTelemetry(w http.ResponseWriter, r *http.Request) {
	filter, err := s.telemetryFilterFromQuery(r)
	if err != nil {
		writeBadRequest(w, "invalid query parameter: "+err.Error())
		return
	}
	filter.TagID = chi.URLParam(r, "id")

	readings, err := s.telemetry.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("telemetry query failed", "error", err)
		writeInternalError(w, "failed to query telemetry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}
