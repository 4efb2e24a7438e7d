// Package signalr is a client for ASP.NET Core SignalR hubs speaking the
// JSON hub protocol over WebSockets or HTTP long polling.
package signalr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Default timings, matching the hub defaults.
const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultServerTimeout     = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultPollTimeout       = 120 * time.Second
	defaultNegotiateTimeout  = 30 * time.Second
)

// Options configures a Factory. Zero values take the defaults.
type Options struct {
	// HTTPClient is used for negotiate and long polling requests. It must
	// not impose a timeout shorter than PollTimeout.
	HTTPClient *http.Client

	// Dialer opens WebSockets.
	Dialer *websocket.Dialer

	// KeepAliveInterval is how often a ping is sent over WebSockets.
	KeepAliveInterval time.Duration

	// ServerTimeout ends a WebSocket session that received nothing for
	// this long. Long polling has its own keepalive and ignores it.
	ServerTimeout time.Duration

	// HandshakeTimeout bounds the hub handshake.
	HandshakeTimeout time.Duration

	// PollTimeout bounds a single long poll.
	PollTimeout time.Duration
}

// Factory opens hub sessions for transport candidates.
type Factory struct {
	opts       Options
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

var _ ports.SessionFactory = (*Factory)(nil)

// NewFactory creates a session factory.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = DefaultServerTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	return &Factory{
		opts:       opts,
		httpClient: client,
		dialer:     dialer,
		logger:     logging.OrNop(logger).With("component", "signalr"),
	}
}

// Open connects to the hub described by candidate and completes the
// protocol handshake.
func (f *Factory) Open(ctx context.Context, candidate domain.TransportCandidate, token string, handler ports.InvocationHandler) (ports.Session, error) {
	if candidate.SkipNegotiation {
		if candidate.Mode != domain.ModeWebSocketOnly {
			return nil, fmt.Errorf("%w: negotiation can only be skipped for WebSockets", apperrors.ErrTransportNotOffered)
		}
		t, err := f.dialWebSocket(ctx, candidate.URL, "", token)
		if err != nil {
			return nil, err
		}
		return f.start(ctx, t, "", handler)
	}

	neg, err := f.negotiateWithTimeout(ctx, candidate.URL, token)
	if err != nil {
		return nil, err
	}

	switch candidate.Mode {
	case domain.ModeWebSocketOnly:
		return f.openWebSocket(ctx, neg, handler)
	case domain.ModeLongPollingOnly:
		return f.openLongPollingSession(ctx, neg, handler)
	default:
		return f.openWithFallback(ctx, candidate, token, neg, handler)
	}
}

// openWithFallback prefers WebSockets and falls back to long polling with
// a fresh negotiation, since a failed attempt may consume the connection
// token.
func (f *Factory) openWithFallback(ctx context.Context, candidate domain.TransportCandidate, token string, neg negotiation, handler ports.InvocationHandler) (ports.Session, error) {
	var wsErr error
	if neg.offers(transportWebSockets) {
		session, err := f.openWebSocket(ctx, neg, handler)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil || errors.Is(err, apperrors.ErrUnauthorized) {
			return nil, err
		}
		f.logger.DebugContext(ctx, "websocket transport failed, falling back to long polling",
			"url", candidate.URL,
			"error", err,
		)
		wsErr = err

		neg, err = f.negotiateWithTimeout(ctx, candidate.URL, token)
		if err != nil {
			return nil, err
		}
	}

	if !neg.offers(transportLongPolling) {
		if wsErr != nil {
			return nil, wsErr
		}
		return nil, fmt.Errorf("%w: neither WebSockets nor LongPolling", apperrors.ErrTransportNotOffered)
	}
	return f.openLongPollingSession(ctx, neg, handler)
}

func (f *Factory) openWebSocket(ctx context.Context, neg negotiation, handler ports.InvocationHandler) (ports.Session, error) {
	if !neg.offers(transportWebSockets) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTransportNotOffered, transportWebSockets)
	}
	t, err := f.dialWebSocket(ctx, neg.url, neg.connectionToken, neg.accessToken)
	if err != nil {
		return nil, err
	}
	return f.start(ctx, t, neg.connectionID, handler)
}

func (f *Factory) openLongPollingSession(ctx context.Context, neg negotiation, handler ports.InvocationHandler) (ports.Session, error) {
	if !neg.offers(transportLongPolling) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTransportNotOffered, transportLongPolling)
	}
	t, err := f.openLongPolling(neg.url, neg.connectionToken, neg.accessToken)
	if err != nil {
		return nil, err
	}
	return f.start(ctx, t, neg.connectionID, handler)
}

func (f *Factory) start(ctx context.Context, t transport, connectionID string, handler ports.InvocationHandler) (ports.Session, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, f.opts.HandshakeTimeout)
	defer cancel()

	session, err := startSession(handshakeCtx, t, connectionID, handler, f.logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (f *Factory) negotiateWithTimeout(ctx context.Context, hubURL, token string) (negotiation, error) {
	negotiateCtx, cancel := context.WithTimeout(ctx, defaultNegotiateTimeout)
	defer cancel()
	return f.negotiate(negotiateCtx, hubURL, token)
}

// decorate sets the headers every negotiate request carries.
func (f *Factory) decorate(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}
