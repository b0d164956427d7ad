package api

import (
	"encoding/json"
	"net/http"

	"github.com/tagtrace/tagtrace-core/internal/inventory"
)

// handleInventoryScan processes a reconciliation scan. Items resolve by
// tag ID, serial, or SKU; unresolvable items are reported per item
// without failing the scan.
func (s *Server) handleInventoryScan(w http.ResponseWriter, r *http.Request) {
	var req inventory.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.inventory.Scan(r.Context(), actorFrom(r.Context()), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
