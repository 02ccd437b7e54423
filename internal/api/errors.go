package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/photarc/lumacore/internal/protocol"
	"github.com/photarc/lumacore/internal/safety"
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
	ErrCodeNotPermitted = "not_permitted"
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

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps authority and engine denials to HTTP responses.
// Preconditions that the caller can resolve (wrong state, stale or faulted
// interlocks) are conflicts; validation failures are bad requests.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, safety.ErrInvalidTransition),
		errors.Is(err, protocol.ErrAlreadyRunning),
		errors.Is(err, protocol.ErrNotRunning),
		errors.Is(err, protocol.ErrNotPaused),
		errors.Is(err, protocol.ErrNoProtocol):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, safety.ErrInterlocksNotReady),
		errors.Is(err, safety.ErrStaleInterlocks),
		errors.Is(err, safety.ErrDeadmanReleased),
		errors.Is(err, safety.ErrEmissionDenied),
		errors.Is(err, safety.ErrRecoveryBlocked):
		writeError(w, http.StatusConflict, ErrCodeNotPermitted, err.Error())
	case errors.Is(err, protocol.ErrValidation),
		errors.Is(err, safety.ErrPowerLimit),
		errors.Is(err, safety.ErrRampLimit),
		errors.Is(err, safety.ErrTravelLimit):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
