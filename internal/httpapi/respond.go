// v2
// internal/httpapi/respond.go
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"moldsense/internal/apperr"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("response_encode_failed", slog.Any("err", err))
	}
}

// writeError maps a failure to its HTTP status and renders the error body.
func writeError(logger *slog.Logger, w http.ResponseWriter, message string, err error) {
	writeJSON(logger, w, statusFor(err), errorBody{
		Error:  message,
		Detail: apperr.DetailOf(err),
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindInvalidConfig, apperr.KindEmptyHistory:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindClassificationParse:
		return http.StatusBadGateway
	case apperr.KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
