package signalr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size accepted from the hub.
	maxMessageSize = 1 << 20

	// Outbound messages buffered ahead of the write pump.
	sendBuffer = 16
)

// wsTransport carries hub records over one WebSocket. Reads happen on the
// session's read loop; all writes, including keepalive pings, go through
// the write pump.
type wsTransport struct {
	conn *websocket.Conn

	// Buffered channel of outbound records.
	send chan []byte

	// closed is closed once to stop the write pump.
	closed    chan struct{}
	closeOnce sync.Once

	serverTimeout time.Duration
	keepAlive     time.Duration
	logger        *slog.Logger
}

// dialWebSocket opens a WebSocket to the hub and starts its write pump.
func (f *Factory) dialWebSocket(ctx context.Context, hubURL, connectionToken, token string) (*wsTransport, error) {
	target, err := endpointURL(hubURL, connectionToken, token, true)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := f.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: websocket upgrade returned %d", apperrors.ErrUnauthorized, resp.StatusCode)
			}
			return nil, fmt.Errorf("websocket upgrade returned %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	t := &wsTransport{
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		closed:        make(chan struct{}),
		serverTimeout: f.opts.ServerTimeout,
		keepAlive:     f.opts.KeepAliveInterval,
		logger:        f.logger.With("transport", domain.ModeWebSocketOnly.String()),
	}
	go t.writePump()
	return t, nil
}

func (t *wsTransport) Mode() domain.TransportMode {
	return domain.ModeWebSocketOnly
}

// Receive reads the next message. Every read must complete within the
// server timeout; the hub pings often enough to keep an idle connection
// alive.
func (t *wsTransport) Receive() ([]byte, error) {
	if t.serverTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.serverTimeout)); err != nil {
			return nil, err
		}
	}

	_, message, err := t.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.ErrServerTimeout
		}
		select {
		case <-t.closed:
			return nil, apperrors.ErrSessionClosed
		default:
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			t.logger.Warn("websocket read error", "error", err)
		}
		return nil, err
	}
	return message, nil
}

// Send queues a record for the write pump.
func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return apperrors.ErrSessionClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	case <-t.closed:
		return apperrors.ErrSessionClosed
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

// writePump pumps records to the websocket connection and sends a hub
// ping every keepalive interval. It runs in its own goroutine.
func (t *wsTransport) writePump() {
	var ping <-chan time.Time
	if t.keepAlive > 0 {
		ticker := time.NewTicker(t.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		_ = t.conn.Close()
	}()

	for {
		select {
		case <-t.closed:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := t.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				t.logger.Debug("failed to send close message", "error", err)
			}
			return

		case data := <-t.send:
			if err := t.write(data); err != nil {
				t.logger.Error("failed to write message", "error", err)
				_ = t.Close()
				return
			}

		case <-ping:
			if err := t.write(pingRecord); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
				_ = t.Close()
				return
			}
		}
	}
}

func (t *wsTransport) write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
