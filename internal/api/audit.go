package api

import (
	"net/http"
	"strconv"

	"github.com/tagtrace/tagtrace-core/internal/audit"
)

// handleListAudit returns audit trail entries, newest first.
//
// Query parameters:
//   - actor_id: filter by operator
//   - action: filter by action (gateway.provision, tag.issue, ...)
//   - entity_type, entity_id: filter by affected entity
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		StoreID:    s.registry.StoreID(),
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
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

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
