package server

import (
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Component("server").Warn().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	}
	if errors.As(err, new(errors.Error)) {
		resp.Code = string(errors.CodeOf(err))
	}
	respondJSON(w, status, resp)
}

// statusOf maps coded errors to HTTP statuses.
func statusOf(err error) int {
	switch errors.CodeOf(err) {
	case orchestrator.ErrBusy:
		return http.StatusConflict
	case orchestrator.ErrUnauthorized, errors.ErrUnauthorized:
		return http.StatusForbidden
	case catalog.ErrUnknownMetric:
		return http.StatusNotFound
	case orchestrator.ErrInvalidWindow, errors.ErrInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
