package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/safewatch/internal/engine"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Error codes returned in the error envelope.
const (
	CodeNotAuthenticated  = "not_authenticated"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limit_exceeded"
	CodeActiveEvent       = "conflicting_active_event"
	CodeInvalidTransition = "invalid_transition"
	CodeMaxEscalation     = "max_escalation_reached"
	CodeZoneDataInvalid   = "zone_data_invalid"
	CodeEvidenceUpload    = "evidence_upload_failed"
	CodeNotFound          = "not_found"
	CodeStorage           = "storage_unavailable"
	CodeInvalidInput      = "invalid_input"
	CodeQueueFull         = "queue_full"
	CodeThrottled         = "throttled"
	CodeInternal          = "internal"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError maps err onto a status and code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var se *safety.StorageError
	switch {
	case errors.Is(err, safety.ErrNotAuthenticated):
		return http.StatusUnauthorized, CodeNotAuthenticated
	case errors.Is(err, safety.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, safety.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, safety.ErrConflictingActiveEvent):
		return http.StatusConflict, CodeActiveEvent
	case errors.Is(err, safety.ErrInvalidTransition), errors.Is(err, safety.ErrStale):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, safety.ErrMaxEscalationReached):
		return http.StatusConflict, CodeMaxEscalation
	case errors.Is(err, safety.ErrZoneDataInvalid):
		return http.StatusUnprocessableEntity, CodeZoneDataInvalid
	case errors.Is(err, safety.ErrEvidenceUploadFailed):
		return http.StatusBadGateway, CodeEvidenceUpload
	case errors.Is(err, safety.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, safety.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests, CodeQueueFull
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, CodeStorage
	}
	return http.StatusInternalServerError, CodeInternal
}
