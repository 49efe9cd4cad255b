package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tourneyhub/identity/internal/apperror"
)

// ErrorResponse is the error shape every endpoint renders.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError translates the failure taxonomy into HTTP. Credential problems
// are the caller's (401), provider outages are the upstream's (502), and a
// data-integrity violation is our bug (500, logged loudly).
func writeError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperror.ErrCredentialMissing):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		status, code = http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, apperror.ErrDataIntegrity):
		status, code = http.StatusInternalServerError, "internal_error"
		slog.Error("data integrity violation", slog.String("error", err.Error()))
	default:
		status, code = http.StatusInternalServerError, "internal_error"
		slog.Error("unhandled error", slog.String("error", err.Error()))
	}

	message := err.Error()
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		// Internal details stay in the log.
		message = "something went wrong"
	}

	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
