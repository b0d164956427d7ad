package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// handleListTags returns tags for the store, with optional query filters.
//
// Query parameters:
//   - product_id: filter by product
//   - status: filter by lifecycle status (active, lost, disabled)
//   - serial: look up a single tag by its hardware serial
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Serial lookup returns a single tag, not a list
	if serial := r.URL.Query().Get("serial"); serial != "" {
		tag, err := s.registry.GetTagBySerial(ctx, serial)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tag)
		return
	}

	filter := registry.TagFilter{
		ProductID: r.URL.Query().Get("product_id"),
		Status:    registry.TagStatus(r.URL.Query().Get("status")),
	}

	tags, err := s.registry.ListTags(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list tags", "error", err)
		writeInternalError(w, "failed to list tags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags, "count": len(tags)})
}

// handleIssueTag binds a new tag to a catalog product.
func (s *Server) handleIssueTag(w http.ResponseWriter, r *http.Request) {
	var req registry.IssueTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tag, err := s.registry.IssueTag(r.Context(), actorFrom(r.Context()), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// handleGetTag returns a single tag by ID.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.registry.GetTag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// handleUpdateTag partially updates a tag.
func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tag, err := s.registry.UpdateTag(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}
