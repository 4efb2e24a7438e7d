package ports

import (
	"context"
	"encoding/json"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// InvocationHandler receives server-to-client hub invocations. A session
// calls it from a single goroutine, in the order the transport yields
// messages.
type InvocationHandler func(target string, args []json.RawMessage)

// Session is one live connection to a hub.
type Session interface {
	// ID returns the server-assigned connection id, if any.
	ID() string

	// Transport names the transport actually in use.
	Transport() domain.TransportMode

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	// Err returns why the session ended. Valid after Done is closed.
	Err() error

	// Close ends the session. Safe to call more than once.
	Close() error
}

// SessionFactory opens sessions for one transport candidate.
type SessionFactory interface {
	// Open connects and completes the hub handshake. ctx bounds connection
	// establishment only; the returned session outlives it. Open must
	// return an error rather than block forever when the candidate cannot
	// connect.
	Open(ctx context.Context, candidate domain.TransportCandidate, token string, handler InvocationHandler) (Session, error)
}

// TokenSource provides the bearer token used for hub and REST calls. An
// empty token means the user is not authenticated.
type TokenSource interface {
	Token() string
}
