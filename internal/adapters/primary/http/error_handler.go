package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// ErrorResponse is the standard JSON error response format
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logging.OrNop(logger)}
}

// Handle processes an error and writes the appropriate HTTP response.
// Failures reported by the backend surface as 502 unless they are
// authentication or lookup errors the caller can act on.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	status, response := mapError(err)

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		h.logger.WarnContext(r.Context(), "request failed", attrs...)
	}

	WriteJSON(w, status, response)
}

func mapError(err error) (int, ErrorResponse) {
	var appErr *apperrors.AppError

	switch {
	case errors.Is(err, apperrors.ErrIDRequired):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"}

	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrTokenExpired):
		return http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated with the backend", Code: "UNAUTHORIZED"}

	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "Action forbidden by the backend", Code: "FORBIDDEN"}

	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Resource not found", Code: "NOT_FOUND"}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "Backend request timed out", Code: "TIMEOUT"}

	case errors.As(err, &appErr):
		return http.StatusBadGateway, ErrorResponse{Error: appErr.Message, Code: appErr.Code}

	case errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"}

	default:
		return http.StatusBadGateway, ErrorResponse{Error: "Backend request failed", Code: "UPSTREAM_ERROR"}
	}
}
