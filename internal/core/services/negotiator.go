package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Connector establishes a session from an ordered candidate list.
type Connector interface {
	TryConnect(ctx context.Context, candidates []domain.TransportCandidate, token string, handler ports.InvocationHandler) (ports.Session, domain.TransportCandidate, error)
}

// Negotiator walks a candidate ladder until one transport connects.
type Negotiator struct {
	factory          ports.SessionFactory
	candidateTimeout time.Duration
	logger           *slog.Logger
}

var _ Connector = (*Negotiator)(nil)

// NewNegotiator creates a negotiator. A zero candidateTimeout leaves each
// attempt bounded only by the transport's own handshake.
func NewNegotiator(factory ports.SessionFactory, candidateTimeout time.Duration, logger *slog.Logger) *Negotiator {
	return &Negotiator{
		factory:          factory,
		candidateTimeout: candidateTimeout,
		logger:           logging.OrNop(logger).With("component", "negotiator"),
	}
}

// TryConnect tries candidates strictly in order and returns the first live
// session together with the candidate that produced it. When every
// candidate fails the error is a *errors.NegotiationError listing each
// attempt. A cancelled ctx stops the ladder and returns ctx's error.
func (n *Negotiator) TryConnect(ctx context.Context, candidates []domain.TransportCandidate, token string, handler ports.InvocationHandler) (ports.Session, domain.TransportCandidate, error) {
	if len(candidates) == 0 {
		return nil, domain.TransportCandidate{}, apperrors.ErrNoCandidates
	}

	attempts := make([]apperrors.CandidateAttempt, 0, len(candidates))
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, domain.TransportCandidate{}, err
		}

		session, err := n.open(ctx, candidate, token, handler)
		if err == nil {
			n.logger.InfoContext(ctx, "transport connected",
				"candidate", candidate.String(),
				"transport", session.Transport().String(),
				"connection_id", session.ID(),
				"attempt", i+1,
			)
			return session, candidate, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.TransportCandidate{}, ctxErr
		}

		n.logger.DebugContext(ctx, "transport candidate failed",
			"candidate", candidate.String(),
			"attempt", i+1,
			"error", err,
		)
		attempts = append(attempts, apperrors.CandidateAttempt{Candidate: candidate, Err: err})
	}

	return nil, domain.TransportCandidate{}, &apperrors.NegotiationError{Attempts: attempts}
}

func (n *Negotiator) open(ctx context.Context, candidate domain.TransportCandidate, token string, handler ports.InvocationHandler) (ports.Session, error) {
	if n.candidateTimeout <= 0 {
		return n.factory.Open(ctx, candidate, token, handler)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, n.candidateTimeout)
	defer cancel()

	session, err := n.factory.Open(attemptCtx, candidate, token, handler)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("candidate timed out after %s: %w", n.candidateTimeout, err)
	}
	return session, err
}
