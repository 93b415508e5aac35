package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/logging"
)

// ApiResponse is the envelope of every successful JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorMapping pairs a sentinel error with its HTTP status and error code.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{apperrors.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperrors.ErrConflict, http.StatusConflict, "conflict"},
	{apperrors.ErrDashboardNotLoaded, http.StatusConflict, "dashboard_not_loaded"},
	{apperrors.ErrUnknownParameter, http.StatusBadRequest, "unknown_parameter"},
	{apperrors.ErrUnknownFilter, http.StatusBadRequest, "unknown_filter"},
	{apperrors.ErrInvalidRefreshRate, http.StatusBadRequest, "invalid_refresh_rate"},
	{apperrors.ErrRejectedValue, http.StatusUnprocessableEntity, "rejected_value"},
	{apperrors.ErrSharingNotAvailable, http.StatusNotImplemented, "sharing_not_available"},
}

// writeServiceError maps a service error to its HTTP status. Unmapped errors
// are logged and reported as internal errors with message.
func writeServiceError(w http.ResponseWriter, err error, message string, logger *zap.Logger) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if werr := ErrorResponse(w, m.status, m.code, err.Error()); werr != nil {
				logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
	}

	// driver errors can echo connection strings
	logger.Error(message, zap.String("error", logging.SanitizeError(err)))
	if werr := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}

// writeBadRequest writes a 400 with code and message.
func writeBadRequest(w http.ResponseWriter, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeData writes data inside a successful ApiResponse.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}
