package api

import (
	"encoding/json"
	"net/http"

	"github.com/tagtrace/tagtrace-core/internal/ingest"
)

// ingestRequest is the body for POST /ingest.
type ingestRequest struct {
	Items []ingest.Item `json:"items"`
}

// handleIngest accepts a telemetry batch from a gateway.
//
// The gateway authenticates with its bearer secret in the Authorization
// header; a bad secret rejects the whole batch. Item-level problems are
// reported per item without failing the batch.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	secret := bearerToken(r)
	if secret == "" {
		writeUnauthorized(w, "missing gateway credential")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), secret, req.Items)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The pipeline's notifier pushes any raised events to WebSocket
	// clients; the HTTP response just reports the batch outcome.
	writeJSON(w, http.StatusAccepted, result)
}
