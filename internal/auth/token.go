package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Claims holds the parts of the access token the agent looks at. The token
// is issued and verified by the backend; the agent only reads it.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Inspect decodes a JWT without verifying its signature.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the claims carry an expiry that has passed.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// TokenSource holds the bearer token used for hub and REST calls. A JWT
// whose exp has passed is reported as absent; tokens that are not JWTs
// are passed through unchanged.
type TokenSource struct {
	path   string
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

var _ ports.TokenSource = (*TokenSource)(nil)

// NewStaticTokenSource creates a token source with a fixed token.
func NewStaticTokenSource(token string, logger *slog.Logger) *TokenSource {
	return &TokenSource{
		token:  strings.TrimSpace(token),
		now:    time.Now,
		logger: logging.OrNop(logger).With("component", "token_source"),
	}
}

// NewFileTokenSource creates a token source that reads the token from
// path. A missing file means no token yet.
func NewFileTokenSource(path string, logger *slog.Logger) (*TokenSource, error) {
	s := &TokenSource{
		path:   path,
		now:    time.Now,
		logger: logging.OrNop(logger).With("component", "token_source"),
	}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Token returns the current token, or "" when there is none or it has
// expired.
func (s *TokenSource) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return ""
	}
	claims, err := Inspect(token)
	if err != nil {
		return token
	}
	if claims.Expired(s.now()) {
		s.logger.Debug("access token expired", "expired_at", claims.ExpiresAt.Time)
		return ""
	}
	return token
}

// Subject returns the subject of the current token, if it is a JWT.
func (s *TokenSource) Subject() string {
	token := s.Token()
	if token == "" {
		return ""
	}
	claims, err := Inspect(token)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// Set replaces the token and reports whether it changed.
func (s *TokenSource) Set(token string) bool {
	token = strings.TrimSpace(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.token {
		return false
	}
	s.token = token
	return true
}

// Reload re-reads the token file and reports whether the token changed.
// It is a no-op for static sources.
func (s *TokenSource) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.Set(""), nil
		}
		return false, fmt.Errorf("read token file: %w", err)
	}
	return s.Set(string(data)), nil
}

// Watch reloads the token file every interval and calls onChange after
// each change, until ctx is cancelled.
func (s *TokenSource) Watch(ctx context.Context, interval time.Duration, onChange func()) {
	if s.path == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.Reload()
			if err != nil {
				s.logger.Warn("failed to reload access token", "path", s.path, "error", err)
				continue
			}
			if changed {
				s.logger.Info("access token changed", "path", s.path)
				onChange()
			}
		}
	}
}
