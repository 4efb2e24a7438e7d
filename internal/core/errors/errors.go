package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// Domain errors
var (
	// Authentication
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("action forbidden")
	ErrTokenExpired = errors.New("token expired")

	// Transport
	ErrAllCandidatesFailed = errors.New("all transport candidates failed")
	ErrNoCandidates        = errors.New("no transport candidates configured")
	ErrNegotiationFailed   = errors.New("negotiation failed")
	ErrTransportNotOffered = errors.New("transport not offered by server")
	ErrHandshakeFailed     = errors.New("hub handshake failed")
	ErrServerClosed        = errors.New("hub closed the connection")
	ErrServerTimeout       = errors.New("server timeout elapsed without receiving a message")
	ErrSessionClosed       = errors.New("session closed")

	// Payloads
	ErrMalformedPayload = errors.New("malformed payload")
	ErrIDRequired       = errors.New("id is required")

	// Generic
	ErrNotFound    = errors.New("resource not found")
	ErrInternal    = errors.New("internal server error")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AppError wraps a failed REST call with the status and server message.
type AppError struct {
	Err        error  // The underlying error
	Message    string // Message from the server body, if any
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAPIError classifies a non-2xx REST response.
func NewAPIError(statusCode int, message string) *AppError {
	if message == "" {
		message = fmt.Sprintf("API error: %d", statusCode)
	}
	switch {
	case statusCode == 401:
		return &AppError{Err: ErrUnauthorized, Message: message, Code: "UNAUTHORIZED", StatusCode: statusCode}
	case statusCode == 403:
		return &AppError{Err: ErrForbidden, Message: message, Code: "FORBIDDEN", StatusCode: statusCode}
	case statusCode == 404:
		return &AppError{Err: ErrNotFound, Message: message, Code: "NOT_FOUND", StatusCode: statusCode}
	case statusCode == 429:
		return &AppError{Err: ErrRateLimited, Message: message, Code: "RATE_LIMITED", StatusCode: statusCode}
	case statusCode >= 500:
		return &AppError{Err: ErrInternal, Message: message, Code: "INTERNAL_ERROR", StatusCode: statusCode}
	default:
		return &AppError{Err: ErrBadRequest, Message: message, Code: "BAD_REQUEST", StatusCode: statusCode}
	}
}

// IsRetryable reports whether a REST failure may succeed on retry: 5xx and
// 429 responses and transport errors, including per-request timeouts.
// Undecodable bodies and cancellation are final, as is a limiter wait that
// would overrun the deadline. Callers check their own ctx for an expired
// deadline.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode >= 500 || appErr.StatusCode == 429
	}
	switch {
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// CandidateAttempt records one failed candidate.
type CandidateAttempt struct {
	Candidate domain.TransportCandidate
	Err       error
}

// NegotiationError is returned when every candidate failed. It carries the
// attempted URLs and modes for diagnostics.
type NegotiationError struct {
	Hub      domain.HubName
	Attempts []CandidateAttempt
}

func (e *NegotiationError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Candidate, a.Err))
	}
	prefix := ErrAllCandidatesFailed.Error()
	if e.Hub != "" {
		prefix = fmt.Sprintf("%s hub: %s", e.Hub, prefix)
	}
	return fmt.Sprintf("%s (%d attempted) [%s]", prefix, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *NegotiationError) Unwrap() error {
	return ErrAllCandidatesFailed
}

// Attempted returns the attempted candidates in order.
func (e *NegotiationError) Attempted() []domain.TransportCandidate {
	out := make([]domain.TransportCandidate, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Candidate)
	}
	return out
}

// CloseError is reported when the server sends a close message.
type CloseError struct {
	Message        string
	AllowReconnect bool
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return ErrServerClosed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrServerClosed, e.Message)
}

func (e *CloseError) Unwrap() error {
	return ErrServerClosed
}

// AllowsReconnect reports whether a session ending with err may be
// reconnected. Server close messages only allow it when they say so;
// anything else (network drop, timeout) does.
func AllowsReconnect(err error) bool {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.AllowReconnect
	}
	return !errors.Is(err, ErrSessionClosed)
}
