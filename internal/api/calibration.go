package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tagtrace/tagtrace-core/internal/calibration"
)

// handleCalibrationStart begins (or restarts) calibration for a gateway.
func (s *Server) handleCalibrationStart(w http.ResponseWriter, r *http.Request) {
	var req calibration.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cal, err := s.calibration.Start(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cal)
}

// handleCalibrationSample records a zone fingerprint from reference-tag
// readings. Sampling a committed calibration reopens it.
func (s *Server) handleCalibrationSample(w http.ResponseWriter, r *http.Request) {
	var req calibration.SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.calibration.Sample(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCalibrationCommit finalises a calibration once every zone has
// been sampled. Warnings in the response flag unstable or overlapping
// zones without blocking the commit.
func (s *Server) handleCalibrationCommit(w http.ResponseWriter, r *http.Request) {
	result, err := s.calibration.Commit(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
