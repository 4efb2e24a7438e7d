// Package restapi is the REST client for the service-desk backend's
// notification and ticket endpoints.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

const maxBodySize = 8 << 20

// Options configures a Client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 disables limiting
	Burst          int
	RetryAttempts  uint
	RetryDelay     time.Duration
	AcceptLanguage string
}

// DefaultOptions returns the settings used by the agent.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:        baseURL,
		Timeout:        30 * time.Second,
		RateLimit:      10,
		Burst:          20,
		RetryAttempts:  3,
		RetryDelay:     500 * time.Millisecond,
		AcceptLanguage: "UZ",
	}
}

// Client calls the backend with the caller's bearer token.
type Client struct {
	baseURL        string
	http           *http.Client
	limiter        *rate.Limiter
	tokens         ports.TokenSource
	attempts       uint
	retryDelay     time.Duration
	acceptLanguage string
	logger         *slog.Logger
}

var (
	_ ports.NotificationAPI = (*Client)(nil)
	_ ports.TicketAPI       = (*Client)(nil)
)

// NewClient creates a REST client.
func NewClient(opts Options, tokens ports.TokenSource, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("restapi: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("restapi: invalid base URL: %w", err)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	attempts := opts.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	return &Client{
		baseURL:        base,
		http:           client,
		limiter:        limiter,
		tokens:         tokens,
		attempts:       attempts,
		retryDelay:     opts.RetryDelay,
		acceptLanguage: opts.AcceptLanguage,
		logger:         logging.OrNop(logger).With("component", "restapi"),
	}, nil
}

// request describes one call. Only idempotent requests are retried.
type request struct {
	method    string
	path      string
	query     url.Values
	body      any
	retryable bool
}

// do performs req and decodes a JSON response into out, when out is not
// nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	attempts := uint(1)
	if req.retryable {
		attempts = c.attempts
	}

	var lastErr error
	err := retry.Do(
		func() error {
			err := c.doOnce(ctx, req, out)
			lastErr = err
			if err != nil && (ctx.Err() != nil || !apperrors.IsRetryable(err)) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying request",
				"method", req.method,
				"path", req.path,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, req request, out any) error {
	token := c.token()
	if token == "" {
		return &apperrors.AppError{
			Err:        apperrors.ErrUnauthorized,
			Message:    "no access token",
			Code:       "UNAUTHORIZED",
			StatusCode: http.StatusUnauthorized,
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrRateLimited, req.method, req.path, err)
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader = http.NoBody
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.acceptLanguage != "" {
		httpReq.Header.Set("Accept-Language", c.acceptLanguage)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("request completed",
		"method", req.method,
		"path", req.path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewAPIError(resp.StatusCode, errorMessage(data))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrMalformedPayload, req.method, req.path, err)
	}
	return nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

// errorMessage extracts the server's message from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Title   string `json:"title"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	switch {
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	default:
		return body.Title
	}
}
