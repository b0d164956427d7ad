package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tagtrace/tagtrace-core/internal/calibration"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/ingest"
	"github.com/tagtrace/tagtrace-core/internal/inventory"
	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error to its HTTP response. Unknown
// errors become opaque 500s; the detail stays in the server log.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, ingest.ErrBatchTooLarge),
		errors.Is(err, inventory.ErrEmptyScan),
		errors.Is(err, calibration.ErrNoZones),
		errors.Is(err, calibration.ErrNoReferenceTag),
		errors.Is(err, calibration.ErrInsufficientSamples):
		writeBadRequest(w, err.Error())
	case errors.Is(err, calibration.ErrZoneNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, calibration.ErrNoCalibration),
		errors.Is(err, calibration.ErrIncompleteCalibration):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidCredential):
		writeUnauthorized(w, "invalid gateway credential")
	case errors.Is(err, registry.ErrGatewayDisabled):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "gateway is disabled")
	case errors.Is(err, registry.ErrGatewayNotFound):
		writeNotFound(w, "gateway not found")
	case errors.Is(err, registry.ErrTagNotFound):
		writeNotFound(w, "tag not found")
	case errors.Is(err, event.ErrNotFound):
		writeNotFound(w, "event not found")
	case errors.Is(err, registry.ErrSerialExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "serial already registered")
	case errors.Is(err, event.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, ErrCodeConflict, "event already resolved")
	case errors.Is(err, registry.ErrProductNotFound):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "product not found in catalogue")
	default:
		writeInternalError(w, "internal server error")
	}
}
