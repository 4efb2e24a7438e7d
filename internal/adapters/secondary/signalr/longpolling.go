package signalr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

// lpTransport carries hub records over HTTP long polling: GET polls for
// messages, POST sends them and DELETE ends the connection.
type lpTransport struct {
	client      *http.Client
	endpoint    string
	token       string
	pollTimeout time.Duration
	logger      *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// openLongPolling prepares a long polling transport. No request is made
// until the session sends its handshake.
func (f *Factory) openLongPolling(hubURL, connectionToken, token string) (*lpTransport, error) {
	endpoint, err := endpointURL(hubURL, connectionToken, token, false)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &lpTransport{
		client:      f.httpClient,
		endpoint:    endpoint,
		token:       token,
		pollTimeout: f.opts.PollTimeout,
		logger:      f.logger.With("transport", domain.ModeLongPollingOnly.String()),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (t *lpTransport) Mode() domain.TransportMode {
	return domain.ModeLongPollingOnly
}

// Receive polls until the hub returns data. An empty 200 means the poll
// expired and is repeated; 204 means the hub ended the connection.
func (t *lpTransport) Receive() ([]byte, error) {
	for {
		body, status, err := t.poll()
		if err != nil {
			if t.ctx.Err() != nil {
				return nil, apperrors.ErrSessionClosed
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, fmt.Errorf("long polling: %w", err)
		}

		switch {
		case status == http.StatusNoContent:
			return nil, fmt.Errorf("%w: long polling terminated", apperrors.ErrServerClosed)
		case status == http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: poll returned %d", apperrors.ErrUnauthorized, status)
		case status < 200 || status > 299:
			return nil, fmt.Errorf("long polling: unexpected status %d", status)
		case len(body) == 0:
			continue
		default:
			return body, nil
		}
	}
}

func (t *lpTransport) poll() ([]byte, int, error) {
	ctx := t.ctx
	if t.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(t.ctx, t.pollTimeout)
		defer cancel()
	}

	sep := "?"
	if strings.Contains(t.endpoint, "?") {
		sep = "&"
	}
	target := t.endpoint + sep + "_=" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// Send posts one or more records.
func (t *lpTransport) Send(data []byte) error {
	if t.ctx.Err() != nil {
		return apperrors.ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(t.ctx, writeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if t.ctx.Err() != nil {
			return apperrors.ErrSessionClosed
		}
		return fmt.Errorf("long polling send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("long polling send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close aborts the outstanding poll and tells the hub the connection is
// gone. The DELETE is best effort and does not block the caller.
func (t *lpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		go t.sendDelete()
	})
	return nil
}

func (t *lpTransport) sendDelete() {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.endpoint, nil)
	if err != nil {
		return
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("long polling delete failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}

func (t *lpTransport) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}
