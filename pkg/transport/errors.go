package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/storage"
)

// HTTPStatusFromError maps an API error type to its HTTP status code.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorFrom normalizes any error to the wire error shape. Storage
// sentinels map to their API equivalents; everything else becomes a
// server error.
func APIErrorFrom(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, storage.ErrNotFound) {
		return api.NewNotFoundError(err.Error())
	}
	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes err as the standard JSON error envelope
// with the given status code.
func WriteErrorResponse(w http.ResponseWriter, err *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: err})
}

// WriteAPIError writes err with the status code derived from its type.
func WriteAPIError(w http.ResponseWriter, err *api.APIError) {
	WriteErrorResponse(w, err, HTTPStatusFromError(err))
}
