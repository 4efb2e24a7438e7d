package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockSessionFactory is a mock implementation of ports.SessionFactory
type MockSessionFactory struct {
	mock.Mock
}

func NewMockSessionFactory() *MockSessionFactory {
	return &MockSessionFactory{}
}

func (m *MockSessionFactory) Open(ctx context.Context, candidate domain.TransportCandidate, token string, handler ports.InvocationHandler) (ports.Session, error) {
	args := m.Called(ctx, candidate, token, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Session), args.Error(1)
}

// MockSession is a controllable ports.Session. End simulates the transport
// dropping with the given error.
type MockSession struct {
	id        string
	transport domain.TransportMode

	mu      sync.Mutex
	done    chan struct{}
	err     error
	closed  bool
	handler ports.InvocationHandler
}

func NewMockSession(id string, transport domain.TransportMode) *MockSession {
	return &MockSession{
		id:        id,
		transport: transport,
		done:      make(chan struct{}),
	}
}

func (s *MockSession) ID() string                      { return s.id }
func (s *MockSession) Transport() domain.TransportMode { return s.transport }
func (s *MockSession) Done() <-chan struct{}           { return s.done }

func (s *MockSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session from the client side. Err stays nil.
func (s *MockSession) Close() error {
	s.end(nil, true)
	return nil
}

// End terminates the session as if the transport failed with err.
func (s *MockSession) End(err error) {
	s.end(err, false)
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bind stores the invocation handler the session was opened with so tests
// can push server invocations through Invoke.
func (s *MockSession) Bind(handler ports.InvocationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Invoke delivers a server invocation to the bound handler.
func (s *MockSession) Invoke(target string, args ...[]byte) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw = append(raw, json.RawMessage(a))
	}
	handler(target, raw)
}

func (s *MockSession) end(err error, byClient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byClient {
		s.closed = true
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

// MockNotificationAPI is a mock implementation of ports.NotificationAPI
type MockNotificationAPI struct {
	mock.Mock
}

func NewMockNotificationAPI() *MockNotificationAPI {
	return &MockNotificationAPI{}
}

func (m *MockNotificationAPI) ListNotifications(ctx context.Context, query domain.NotificationQuery) (domain.NotificationPage, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(domain.NotificationPage), args.Error(1)
}

func (m *MockNotificationAPI) MarkNotificationRead(ctx context.Context, id domain.ID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationAPI) MarkAllNotificationsRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTicketAPI is a mock implementation of ports.TicketAPI
type MockTicketAPI struct {
	mock.Mock
}

func NewMockTicketAPI() *MockTicketAPI {
	return &MockTicketAPI{}
}

func (m *MockTicketAPI) ListTickets(ctx context.Context, skip, take int) ([]domain.TicketSummary, error) {
	args := m.Called(ctx, skip, take)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TicketSummary), args.Error(1)
}

// MockAnnouncer is a mock implementation of ports.Announcer
type MockAnnouncer struct {
	mock.Mock
}

func NewMockAnnouncer() *MockAnnouncer {
	return &MockAnnouncer{}
}

func (m *MockAnnouncer) AnnounceNotification(ctx context.Context, item domain.NotificationItem) {
	m.Called(ctx, item)
}

func (m *MockAnnouncer) AnnounceTicket(ctx context.Context, ticket domain.TicketSummary) {
	m.Called(ctx, ticket)
}

// StaticToken is a ports.TokenSource returning a fixed value.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// MockTokenSource is a mock implementation of ports.TokenSource
type MockTokenSource struct {
	mock.Mock
}

func NewMockTokenSource() *MockTokenSource {
	return &MockTokenSource{}
}

func (m *MockTokenSource) Token() string {
	args := m.Called()
	return args.String(0)
}
