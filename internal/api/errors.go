package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"lakeshare/internal/domain"
)

// errorResponse is the protocol error body.
type errorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// statusFromDomainError maps domain errors to HTTP status codes. Access
// denials map to 404: the catalog layer already masks them, this is the
// backstop for any path that does not go through it.
func statusFromDomainError(err error) (int, string) {
	var unauthenticated *domain.UnauthenticatedError
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError

	switch {
	case errors.As(err, &unauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &accessDenied):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "BAD_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeError renders a domain error. Internal errors are logged and
// replaced with a generic message; denied lookups render with the same
// body a missing securable would get.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := statusFromDomainError(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		message = "internal server error"
	}
	var denied *domain.AccessDeniedError
	if errors.As(err, &denied) {
		message = "not found"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{ErrorCode: code, Message: message})
}
