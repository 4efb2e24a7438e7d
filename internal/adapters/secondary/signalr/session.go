package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// transport moves raw hub protocol payloads. Receive is only called from
// one goroutine at a time.
type transport interface {
	Mode() domain.TransportMode
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Session is a hub connection that completed the protocol handshake.
type Session struct {
	id        string
	transport transport
	handler   ports.InvocationHandler
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

var _ ports.Session = (*Session)(nil)

// startSession runs the handshake over t and starts the read loop. ctx
// bounds the handshake only.
func startSession(ctx context.Context, t transport, connectionID string, handler ports.InvocationHandler, logger *slog.Logger) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })

	rest, err := handshake(t)
	if !stop() {
		_ = t.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrHandshakeFailed, ctxErr)
		}
	}
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	s := &Session{
		id:        connectionID,
		transport: t,
		handler:   handler,
		logger:    logger.With("connection_id", connectionID, "transport", t.Mode().String()),
		done:      make(chan struct{}),
	}
	go s.readLoop(rest)
	return s, nil
}

func handshake(t transport) ([]byte, error) {
	if err := t.Send(handshakeRecord); err != nil {
		return nil, fmt.Errorf("%w: sending handshake: %v", apperrors.ErrHandshakeFailed, err)
	}
	data, err := t.Receive()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrHandshakeFailed, err)
	}
	return parseHandshake(data)
}

func (s *Session) ID() string                      { return s.id }
func (s *Session) Transport() domain.TransportMode { return s.transport.Mode() }
func (s *Session) Done() <-chan struct{}           { return s.done }

// Err returns why the session ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session. Err reports ErrSessionClosed afterwards.
func (s *Session) Close() error {
	s.finish(apperrors.ErrSessionClosed)
	return nil
}

func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		_ = s.transport.Close()
		close(s.done)
	})
}

// readLoop delivers records in arrival order until the transport fails or
// the hub sends a close message.
func (s *Session) readLoop(pending []byte) {
	data := pending
	for {
		for _, record := range splitRecords(data) {
			if !s.dispatch(record) {
				return
			}
		}

		var err error
		data, err = s.transport.Receive()
		if err != nil {
			s.logger.Debug("hub connection ended", "error", err)
			s.finish(err)
			return
		}
	}
}

// dispatch handles one record and reports whether reading should go on.
func (s *Session) dispatch(record []byte) bool {
	var msg hubMessage
	if err := json.Unmarshal(record, &msg); err != nil {
		s.logger.Debug("dropping malformed hub message", "error", err)
		return true
	}

	switch msg.Type {
	case messageInvocation:
		if s.handler != nil {
			s.handler(msg.Target, msg.Arguments)
		}
	case messagePing:
	case messageClose:
		s.finish(&apperrors.CloseError{Message: msg.Error, AllowReconnect: msg.AllowReconnect})
		return false
	default:
		s.logger.Debug("ignoring hub message", "type", msg.Type)
	}
	return true
}
