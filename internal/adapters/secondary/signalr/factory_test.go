package signalr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

const waitFor = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeHub is a minimal hub server: negotiate, WebSockets and long polling
// on /hub, plus a negotiate redirect on /redirect.
type fakeHub struct {
	server *httptest.Server
	stop   chan struct{}
	polls  chan []byte

	mu              sync.Mutex
	offered         []string
	rejectUpgrade   bool
	negotiateStatus int
	handshakeError  string
	handshakeExtra  string
	script          func(conn *websocket.Conn)
	negotiations    int
	negotiateAuth   []string
	wsQueries       []url.Values
	deleted         bool
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()

	h := &fakeHub{
		stop:    make(chan struct{}),
		polls:   make(chan []byte, 16),
		offered: []string{transportWebSockets, transportLongPolling},
	}

	r := chi.NewRouter()
	r.Post("/hub/negotiate", h.negotiate)
	r.Post("/redirect/negotiate", h.redirect)
	r.Get("/hub", h.connect)
	r.Post("/hub", h.send)
	r.Delete("/hub", h.disconnect)

	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	t.Cleanup(func() { close(h.stop) })
	return h
}

func (h *fakeHub) hubURL() string {
	return h.server.URL + "/hub"
}

func (h *fakeHub) negotiate(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.negotiations++
	h.negotiateAuth = append(h.negotiateAuth, r.Header.Get("Authorization"))
	status := h.negotiateStatus
	offered := h.offered
	h.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.URL.Query().Get("negotiateVersion") != "1" {
		http.Error(w, "unsupported negotiate version", http.StatusBadRequest)
		return
	}

	transports := make([]availableTransport, 0, len(offered))
	for _, name := range offered {
		transports = append(transports, availableTransport{Transport: name, TransferFormats: []string{"Text", "Binary"}})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(negotiateResponse{
		ConnectionID:        "conn-1",
		ConnectionToken:     "token-1",
		NegotiateVersion:    1,
		AvailableTransports: transports,
	})
}

func (h *fakeHub) redirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(negotiateResponse{URL: h.hubURL(), AccessToken: "redirected"})
}

func (h *fakeHub) connect(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}
	h.poll(w, r)
}

func (h *fakeHub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.wsQueries = append(h.wsQueries, r.URL.Query())
	reject := h.rejectUpgrade
	script := h.script
	response := h.handshakeResponse()
	h.mu.Unlock()

	if reject {
		http.Error(w, "websockets disabled", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil || !bytes.Contains(msg, []byte(`"protocol":"json"`)) {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, response); err != nil {
		return
	}
	if script != nil {
		script(conn)
	}
	<-h.stop
}

// handshakeResponse must be called with mu held.
func (h *fakeHub) handshakeResponse() []byte {
	resp := "{}"
	if h.handshakeError != "" {
		resp = fmt.Sprintf(`{"error":%q}`, h.handshakeError)
	}
	return []byte(resp + "\x1e" + h.handshakeExtra)
}

func (h *fakeHub) poll(w http.ResponseWriter, r *http.Request) {
	select {
	case data := <-h.polls:
		_, _ = w.Write(data)
	case <-time.After(50 * time.Millisecond):
		w.WriteHeader(http.StatusOK)
	case <-h.stop:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (h *fakeHub) send(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if bytes.Contains(body, []byte(`"protocol":"json"`)) {
		h.mu.Lock()
		response := h.handshakeResponse()
		h.mu.Unlock()
		h.polls <- response
	}
	w.WriteHeader(http.StatusOK)
}

func (h *fakeHub) disconnect(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.deleted = true
	h.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (h *fakeHub) set(fn func(h *fakeHub)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

func (h *fakeHub) negotiateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.negotiations
}

type invocation struct {
	target string
	args   []json.RawMessage
}

func collector() (ports.InvocationHandler, <-chan invocation) {
	ch := make(chan invocation, 16)
	return func(target string, args []json.RawMessage) {
		ch <- invocation{target: target, args: args}
	}, ch
}

func newTestFactory(opts Options) *Factory {
	return NewFactory(opts, logging.NewNop())
}

func openSession(t *testing.T, f *Factory, candidate domain.TransportCandidate, handler ports.InvocationHandler) ports.Session {
	t.Helper()
	session, err := f.Open(context.Background(), candidate, "tok", handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func receive(t *testing.T, ch <-chan invocation) invocation {
	t.Helper()
	select {
	case inv := <-ch:
		return inv
	case <-time.After(waitFor):
		t.Fatal("no invocation delivered")
		return invocation{}
	}
}

func waitDone(t *testing.T, session ports.Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
}

func TestFactory_WebSocketDeliversInvocations(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) {
		h.script = func(conn *websocket.Conn) {
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"ReceiveNotification\",\"arguments\":[{\"id\":\"n1\"}]}\x1e"))
		}
	})
	handler, invocations := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketWithFallback,
	}, handler)

	assert.Equal(t, "conn-1", session.ID())
	assert.Equal(t, domain.ModeWebSocketOnly, session.Transport())

	inv := receive(t, invocations)
	assert.Equal(t, "ReceiveNotification", inv.target)
	require.Len(t, inv.args, 1)
	assert.JSONEq(t, `{"id":"n1"}`, string(inv.args[0]))

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Equal(t, []string{"Bearer tok"}, hub.negotiateAuth)
	require.Len(t, hub.wsQueries, 1)
	assert.Equal(t, "token-1", hub.wsQueries[0].Get("id"))
	assert.Equal(t, "tok", hub.wsQueries[0].Get("access_token"))
}

func TestFactory_DeliversRecordsBatchedWithHandshake(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) {
		h.handshakeExtra = "{\"type\":1,\"target\":\"TicketCreated\",\"arguments\":[{\"id\":\"t1\"}]}\x1e"
	})
	handler, invocations := collector()

	openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, handler)

	assert.Equal(t, "TicketCreated", receive(t, invocations).target)
}

func TestFactory_SkipNegotiation(t *testing.T) {
	hub := newFakeHub(t)
	handler, _ := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:             hub.hubURL(),
		Mode:            domain.ModeWebSocketOnly,
		SkipNegotiation: true,
	}, handler)

	assert.Equal(t, domain.ModeWebSocketOnly, session.Transport())
	assert.Empty(t, session.ID())
	assert.Zero(t, hub.negotiateCount())

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Len(t, hub.wsQueries, 1)
	assert.Empty(t, hub.wsQueries[0].Get("id"))
	assert.Equal(t, "tok", hub.wsQueries[0].Get("access_token"))
}

func TestFactory_SkipNegotiationRequiresWebSockets(t *testing.T) {
	hub := newFakeHub(t)

	_, err := newTestFactory(Options{}).Open(context.Background(), domain.TransportCandidate{
		URL:             hub.hubURL(),
		Mode:            domain.ModeLongPollingOnly,
		SkipNegotiation: true,
	}, "tok", nil)

	assert.ErrorIs(t, err, apperrors.ErrTransportNotOffered)
	assert.Zero(t, hub.negotiateCount())
}

func TestFactory_TransportNotOffered(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) { h.offered = []string{transportLongPolling} })

	_, err := newTestFactory(Options{}).Open(context.Background(), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, "tok", nil)

	assert.ErrorIs(t, err, apperrors.ErrTransportNotOffered)
}

func TestFactory_FallsBackToLongPolling(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) { h.rejectUpgrade = true })
	handler, invocations := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketWithFallback,
	}, handler)

	assert.Equal(t, domain.ModeLongPollingOnly, session.Transport())
	assert.Equal(t, 2, hub.negotiateCount(), "fallback negotiates again")

	hub.polls <- []byte("{\"type\":1,\"target\":\"TicketUpdated\",\"arguments\":[{\"id\":\"t1\",\"status\":\"Closed\"}]}\x1e")

	inv := receive(t, invocations)
	assert.Equal(t, "TicketUpdated", inv.target)
	require.Len(t, inv.args, 1)
	assert.JSONEq(t, `{"id":"t1","status":"Closed"}`, string(inv.args[0]))
}

func TestFactory_LongPollingCloseDeletesConnection(t *testing.T) {
	hub := newFakeHub(t)
	handler, _ := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeLongPollingOnly,
	}, handler)
	require.Equal(t, domain.ModeLongPollingOnly, session.Transport())

	require.NoError(t, session.Close())
	waitDone(t, session)
	assert.ErrorIs(t, session.Err(), apperrors.ErrSessionClosed)

	assert.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.deleted
	}, waitFor, 10*time.Millisecond)
}

func TestFactory_HandshakeError(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) { h.handshakeError = "Requested protocol 'json' is not available." })

	_, err := newTestFactory(Options{}).Open(context.Background(), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, "tok", nil)

	require.ErrorIs(t, err, apperrors.ErrHandshakeFailed)
	assert.Contains(t, err.Error(), "not available")
}

func TestFactory_NegotiateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: apperrors.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: apperrors.ErrForbidden},
		{name: "server error", status: http.StatusInternalServerError, want: apperrors.ErrNegotiationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newFakeHub(t)
			hub.set(func(h *fakeHub) { h.negotiateStatus = tt.status })

			_, err := newTestFactory(Options{}).Open(context.Background(), domain.TransportCandidate{
				URL:  hub.hubURL(),
				Mode: domain.ModeWebSocketWithFallback,
			}, "tok", nil)

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFactory_NegotiateRedirect(t *testing.T) {
	hub := newFakeHub(t)
	handler, _ := collector()

	openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.server.URL + "/redirect",
		Mode: domain.ModeWebSocketOnly,
	}, handler)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Equal(t, []string{"Bearer redirected"}, hub.negotiateAuth)
	require.Len(t, hub.wsQueries, 1)
	assert.Equal(t, "redirected", hub.wsQueries[0].Get("access_token"))
}

func TestFactory_CancelledContext(t *testing.T) {
	hub := newFakeHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFactory(Options{}).Open(ctx, domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketWithFallback,
	}, "tok", nil)

	assert.Error(t, err)
}

func TestSession_CloseMessage(t *testing.T) {
	hub := newFakeHub(t)
	hub.set(func(h *fakeHub) {
		h.script = func(conn *websocket.Conn) {
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte("{\"type\":7,\"error\":\"Server is shutting down.\",\"allowReconnect\":true}\x1e"))
		}
	})
	handler, _ := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, handler)
	waitDone(t, session)

	var closeErr *apperrors.CloseError
	require.True(t, errors.As(session.Err(), &closeErr))
	assert.True(t, closeErr.AllowReconnect)
	assert.Equal(t, "Server is shutting down.", closeErr.Message)
	assert.ErrorIs(t, session.Err(), apperrors.ErrServerClosed)
	assert.True(t, apperrors.AllowsReconnect(session.Err()))
}

func TestSession_ServerTimeout(t *testing.T) {
	hub := newFakeHub(t)
	handler, _ := collector()

	session := openSession(t, newTestFactory(Options{
		ServerTimeout:     100 * time.Millisecond,
		KeepAliveInterval: time.Hour,
	}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, handler)
	waitDone(t, session)

	assert.ErrorIs(t, session.Err(), apperrors.ErrServerTimeout)
}

func TestSession_SendsKeepAlivePings(t *testing.T) {
	hub := newFakeHub(t)
	pings := make(chan struct{}, 1)
	hub.set(func(h *fakeHub) {
		h.script = func(conn *websocket.Conn) {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				for _, record := range splitRecords(msg) {
					var m hubMessage
					if json.Unmarshal(record, &m) == nil && m.Type == messagePing {
						select {
						case pings <- struct{}{}:
						default:
						}
					}
				}
			}
		}
	})
	handler, _ := collector()

	openSession(t, newTestFactory(Options{KeepAliveInterval: 20 * time.Millisecond}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, handler)

	select {
	case <-pings:
	case <-time.After(waitFor):
		t.Fatal("no keepalive ping received")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	hub := newFakeHub(t)
	handler, _ := collector()

	session := openSession(t, newTestFactory(Options{}), domain.TransportCandidate{
		URL:  hub.hubURL(),
		Mode: domain.ModeWebSocketOnly,
	}, handler)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	waitDone(t, session)

	assert.ErrorIs(t, session.Err(), apperrors.ErrSessionClosed)
	assert.False(t, apperrors.AllowsReconnect(session.Err()))
}
