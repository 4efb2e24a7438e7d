package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// DefaultReconnectDelays is the fixed schedule used after an unexpected
// drop: one immediate retry, then increasing waits.
var DefaultReconnectDelays = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// ManagerOptions tunes a ConnectionManager.
type ManagerOptions struct {
	// ReconnectDelays is waited before each reconnect attempt. Nil means
	// DefaultReconnectDelays; an empty non-nil slice disables reconnects.
	ReconnectDelays []time.Duration
}

// HubInfo describes one hub connection for diagnostics.
type HubInfo struct {
	Name         domain.HubName          `json:"name"`
	State        string                  `json:"state"`
	Status       domain.ConnectionStatus `json:"status"`
	Candidate    string                  `json:"candidate,omitempty"`
	Transport    string                  `json:"transport,omitempty"`
	ConnectionID string                  `json:"connectionId,omitempty"`
	LastError    string                  `json:"lastError,omitempty"`
}

// ConnectionManager owns one connection per hub and drives each through
// Disconnected, Connecting, Connected and Reconnecting.
type ConnectionManager struct {
	connector  Connector
	tokens     ports.TokenSource
	dispatcher *Dispatcher
	delays     []time.Duration
	hubs       []*hubConnection
	byName     map[domain.HubName]*hubConnection
	logger     *slog.Logger
	now        func() time.Time
}

type hubConnection struct {
	spec    domain.HubSpec
	targets map[string]domain.EventName

	// emitMu orders a transition together with its notification.
	emitMu sync.Mutex

	mu           sync.Mutex
	state        domain.ConnectionState
	epoch        uint64
	cancel       context.CancelFunc
	session      ports.Session
	candidate    domain.TransportCandidate
	hasCandidate bool
	lastErr      error
	failed       bool
}

// NewConnectionManager creates a manager for the given hubs. All hubs start
// Disconnected.
func NewConnectionManager(
	connector Connector,
	tokens ports.TokenSource,
	dispatcher *Dispatcher,
	hubs []domain.HubSpec,
	opts ManagerOptions,
	logger *slog.Logger,
) *ConnectionManager {
	logger = logging.OrNop(logger).With("component", "connection_manager")

	delays := opts.ReconnectDelays
	if delays == nil {
		delays = DefaultReconnectDelays
	}

	m := &ConnectionManager{
		connector:  connector,
		tokens:     tokens,
		dispatcher: dispatcher,
		delays:     append([]time.Duration(nil), delays...),
		byName:     make(map[domain.HubName]*hubConnection, len(hubs)),
		logger:     logger,
		now:        time.Now,
	}

	for _, spec := range hubs {
		targets := make(map[string]domain.EventName, len(spec.Targets))
		for target, event := range spec.Targets {
			targets[strings.ToLower(target)] = event
		}
		h := &hubConnection{
			spec:    spec,
			targets: targets,
		}
		m.hubs = append(m.hubs, h)
		m.byName[spec.Name] = h
	}
	return m
}

// Start connects every Disconnected hub and returns once each attempt has
// resolved. Without a bearer token it does nothing. Connection failures are
// not returned; they surface as state changes and through LastError.
//
// ctx bounds the initial connect only. Established connections and their
// reconnects live until Stop.
func (m *ConnectionManager) Start(ctx context.Context) {
	token := m.tokens.Token()
	if token == "" {
		m.logger.Debug("no bearer token available, staying disconnected")
		return
	}

	var wg sync.WaitGroup
	for _, h := range m.hubs {
		wg.Add(1)
		go func(h *hubConnection) {
			defer wg.Done()
			m.connect(ctx, h, token)
		}(h)
	}
	wg.Wait()
}

// Stop tears down every hub. In-flight connects and reconnects are
// abandoned; their results are discarded.
func (m *ConnectionManager) Stop() {
	for _, h := range m.hubs {
		h.emitMu.Lock()

		h.mu.Lock()
		h.epoch++
		cancel, session := h.cancel, h.session
		h.cancel, h.session = nil, nil
		h.failed = false
		change, changed := m.setStateLocked(h, domain.StateDisconnected, nil)
		h.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if session != nil {
			_ = session.Close()
		}
		m.publish(logging.WithHub(context.Background(), string(h.spec.Name)), change, changed)

		h.emitMu.Unlock()
	}
}

// State returns the current state of a hub. Unknown hubs are Disconnected.
func (m *ConnectionManager) State(hub domain.HubName) domain.ConnectionState {
	h, ok := m.byName[hub]
	if !ok {
		return domain.StateDisconnected
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Status returns the UI status of a hub.
func (m *ConnectionManager) Status(hub domain.HubName) domain.ConnectionStatus {
	h, ok := m.byName[hub]
	if !ok {
		return domain.StatusDisconnected
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.StatusFor(h.state, h.failed)
}

// LastError returns the error of the last failed connect or drop.
func (m *ConnectionManager) LastError(hub domain.HubName) error {
	h, ok := m.byName[hub]
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Hubs returns the managed hub names in configuration order.
func (m *ConnectionManager) Hubs() []domain.HubName {
	names := make([]domain.HubName, 0, len(m.hubs))
	for _, h := range m.hubs {
		names = append(names, h.spec.Name)
	}
	return names
}

// Describe reports every hub's state, transport and last error.
func (m *ConnectionManager) Describe() []HubInfo {
	infos := make([]HubInfo, 0, len(m.hubs))
	for _, h := range m.hubs {
		h.mu.Lock()
		info := HubInfo{
			Name:   h.spec.Name,
			State:  h.state.String(),
			Status: domain.StatusFor(h.state, h.failed),
		}
		if h.hasCandidate {
			info.Candidate = h.candidate.String()
		}
		if h.session != nil {
			info.Transport = h.session.Transport().String()
			info.ConnectionID = h.session.ID()
		}
		if h.lastErr != nil {
			info.LastError = h.lastErr.Error()
		}
		h.mu.Unlock()
		infos = append(infos, info)
	}
	return infos
}

// OnStateChange registers handler for every state transition of any hub.
// Handlers run synchronously on the transitioning goroutine and must not
// call Start or Stop.
func (m *ConnectionManager) OnStateChange(handler func(domain.StateChange)) Subscription {
	return m.dispatcher.On(domain.EventConnectionStateChanged, func(payload any) {
		if change, ok := payload.(domain.StateChange); ok {
			handler(change)
		}
	})
}

func (m *ConnectionManager) connect(ctx context.Context, h *hubConnection, token string) {
	ctx = logging.WithHub(ctx, string(h.spec.Name))

	h.emitMu.Lock()
	h.mu.Lock()
	if h.state != domain.StateDisconnected {
		h.mu.Unlock()
		h.emitMu.Unlock()
		return
	}
	h.epoch++
	epoch := h.epoch
	hubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.failed = false
	change, changed := m.setStateLocked(h, domain.StateConnecting, nil)
	h.mu.Unlock()
	m.publish(ctx, change, changed)
	h.emitMu.Unlock()

	connectCtx, cancelConnect := context.WithCancel(ctx)
	stopOnCancel := context.AfterFunc(hubCtx, cancelConnect)
	session, candidate, err := m.connector.TryConnect(connectCtx, h.spec.Candidates, token, m.invocationHandler(h, epoch))
	stopOnCancel()
	cancelConnect()

	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	if h.epoch != epoch {
		h.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		m.logger.DebugContext(ctx, "discarding superseded connect result", "epoch", epoch)
		return
	}

	if err != nil {
		var negErr *apperrors.NegotiationError
		if errors.As(err, &negErr) {
			negErr.Hub = h.spec.Name
		}
		h.lastErr = err
		h.failed = errors.Is(err, apperrors.ErrAllCandidatesFailed) || errors.Is(err, apperrors.ErrNoCandidates)
		h.cancel = nil
		change, changed := m.setStateLocked(h, domain.StateDisconnected, err)
		h.mu.Unlock()

		cancel()
		m.logger.WarnContext(ctx, "hub connection failed", "error", err)
		m.publish(ctx, change, changed)
		return
	}

	h.session = session
	h.candidate = candidate
	h.hasCandidate = true
	h.lastErr = nil
	change, changed = m.setStateLocked(h, domain.StateConnected, nil)
	h.mu.Unlock()

	sessionCtx := logging.WithConnectionID(hubCtx, session.ID())
	m.publish(sessionCtx, change, changed)
	go m.supervise(sessionCtx, h, epoch, session)
}

// supervise watches a live session and runs the reconnect schedule when it
// drops unexpectedly.
func (m *ConnectionManager) supervise(ctx context.Context, h *hubConnection, epoch uint64, session ports.Session) {
	for {
		select {
		case <-ctx.Done():
			_ = session.Close()
			return
		case <-session.Done():
		}

		cause := session.Err()
		if !apperrors.AllowsReconnect(cause) {
			m.logger.InfoContext(ctx, "hub closed the connection without allowing reconnect", "error", cause)
			m.finish(ctx, h, epoch, cause, false)
			return
		}

		h.emitMu.Lock()
		h.mu.Lock()
		if h.epoch != epoch {
			h.mu.Unlock()
			h.emitMu.Unlock()
			return
		}
		h.session = nil
		h.lastErr = cause
		change, changed := m.setStateLocked(h, domain.StateReconnecting, cause)
		h.mu.Unlock()
		m.publish(ctx, change, changed)
		h.emitMu.Unlock()

		next := m.reconnect(ctx, h, epoch, cause)
		if next == nil {
			return
		}
		session = next
		ctx = logging.WithConnectionID(ctx, session.ID())
	}
}

// reconnect retries the last successful candidate on the fixed schedule.
// It returns nil when the budget is spent or the attempt was superseded.
func (m *ConnectionManager) reconnect(ctx context.Context, h *hubConnection, epoch uint64, cause error) ports.Session {
	h.mu.Lock()
	candidate := h.candidate
	h.mu.Unlock()

	lastErr := cause
	for attempt, delay := range m.delays {
		if !sleepContext(ctx, delay) {
			return nil
		}

		token := m.tokens.Token()
		if token == "" {
			m.logger.InfoContext(ctx, "bearer token gone, abandoning reconnect")
			m.finish(ctx, h, epoch, lastErr, false)
			return nil
		}

		session, _, err := m.connector.TryConnect(ctx, []domain.TransportCandidate{candidate}, token, m.invocationHandler(h, epoch))

		h.emitMu.Lock()
		h.mu.Lock()
		if h.epoch != epoch {
			h.mu.Unlock()
			h.emitMu.Unlock()
			if session != nil {
				_ = session.Close()
			}
			return nil
		}
		if err == nil {
			h.session = session
			h.lastErr = nil
			h.failed = false
			change, changed := m.setStateLocked(h, domain.StateConnected, nil)
			h.mu.Unlock()
			m.publish(logging.WithConnectionID(ctx, session.ID()), change, changed)
			h.emitMu.Unlock()
			return session
		}
		h.lastErr = err
		h.mu.Unlock()
		h.emitMu.Unlock()

		m.logger.WarnContext(ctx, "reconnect attempt failed",
			"attempt", attempt+1,
			"of", len(m.delays),
			"error", err,
		)
		lastErr = err
	}

	m.finish(ctx, h, epoch, lastErr, true)
	return nil
}

// finish moves a hub to Disconnected after its session or reconnect
// budget ended, unless the epoch moved on.
func (m *ConnectionManager) finish(ctx context.Context, h *hubConnection, epoch uint64, cause error, failed bool) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	if h.epoch != epoch {
		h.mu.Unlock()
		return
	}
	cancel := h.cancel
	h.cancel, h.session = nil, nil
	h.lastErr = cause
	h.failed = failed
	change, changed := m.setStateLocked(h, domain.StateDisconnected, cause)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.publish(ctx, change, changed)
}

func (m *ConnectionManager) invocationHandler(h *hubConnection, epoch uint64) ports.InvocationHandler {
	return func(target string, args []json.RawMessage) {
		h.mu.Lock()
		current := h.epoch == epoch
		h.mu.Unlock()
		if !current {
			return
		}

		event, ok := h.targets[strings.ToLower(target)]
		if !ok {
			m.logger.Debug("ignoring unknown hub target", "hub", string(h.spec.Name), "target", target)
			return
		}

		var payload json.RawMessage
		if len(args) > 0 {
			payload = args[0]
		}
		m.dispatcher.Emit(event, payload)
	}
}

// setStateLocked must be called with h.mu held.
func (m *ConnectionManager) setStateLocked(h *hubConnection, next domain.ConnectionState, cause error) (domain.StateChange, bool) {
	if h.state == next {
		return domain.StateChange{}, false
	}
	change := domain.StateChange{
		Hub:      h.spec.Name,
		Previous: h.state,
		Current:  next,
		Status:   domain.StatusFor(next, h.failed),
		Err:      cause,
		At:       m.now(),
	}
	h.state = next
	return change, true
}

func (m *ConnectionManager) publish(ctx context.Context, change domain.StateChange, changed bool) {
	if !changed {
		return
	}
	attrs := []any{"from", change.Previous.String(), "to", change.Current.String()}
	if change.Err != nil {
		attrs = append(attrs, "error", change.Err)
	}
	m.logger.InfoContext(ctx, "connection state changed", attrs...)
	m.dispatcher.Emit(domain.EventConnectionStateChanged, change)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
