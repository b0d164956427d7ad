package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tagtrace/tagtrace-core/internal/infrastructure/mqtt"
	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// handleListGateways returns all gateways for the store.
func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.registry.ListGateways(r.Context())
	if err != nil {
		s.logger.Error("failed to list gateways", "error", err)
		writeInternalError(w, "failed to list gateways")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gateways": gateways, "count": len(gateways)})
}

// handleProvisionGateway registers a new gateway and returns its
// one-time bearer secret. The secret is never retrievable again.
func (s *Server) handleProvisionGateway(w http.ResponseWriter, r *http.Request) {
	var req registry.ProvisionGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.registry.ProvisionGateway(r.Context(), actorFrom(r.Context()), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The broker descriptor tells the installer where this gateway
	// publishes if the store runs MQTT ingestion.
	topics := mqtt.Topics{}
	storeID := s.registry.StoreID()
	writeJSON(w, http.StatusCreated, map[string]any{
		"gateway": result.Gateway,
		"secret":  result.Secret,
		"mqtt": map[string]string{
			"telemetry_topic": topics.GatewayTelemetry(storeID, result.Gateway.ID),
			"status_topic":    topics.GatewayStatus(storeID, result.Gateway.ID),
			"broadcast_topic": topics.StoreBroadcast(storeID),
		},
	})
}

// handleGetGateway returns a single gateway by ID.
func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	gw, err := s.registry.GetGateway(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

// handleUpdateGateway partially updates a gateway.
func (s *Server) handleUpdateGateway(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	gw, err := s.registry.UpdateGateway(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gw)
}
