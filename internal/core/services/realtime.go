package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// RealtimeDeps are the collaborators wired into a Realtime instance.
type RealtimeDeps struct {
	Manager       *ConnectionManager
	Dispatcher    *Dispatcher
	Notifications *NotificationReadModel
	Tickets       *TicketLiveSync
	Tokens        ports.TokenSource
	// Announcer is optional.
	Announcer ports.Announcer
	Logger    *slog.Logger
}

// Realtime is the managed instance that ties the hub connections to the
// read models. Init and Shutdown bracket its lifetime.
type Realtime struct {
	deps   RealtimeDeps
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	subs        []Subscription
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRealtime creates an uninitialised instance.
func NewRealtime(deps RealtimeDeps) *Realtime {
	return &Realtime{
		deps:   deps,
		logger: logging.OrNop(deps.Logger).With("component", "realtime"),
	}
}

// Init registers the event handlers, hydrates the read models over REST and
// starts the hub connections. Calling Init again before Shutdown does
// nothing. REST failures are recorded on the read models; only a cancelled
// ctx is returned as an error.
func (r *Realtime) Init(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = true
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.subs = r.register(bgCtx)
	r.mu.Unlock()

	if r.deps.Tokens.Token() == "" {
		r.logger.Info("no bearer token, realtime layer idle")
		return nil
	}

	r.hydrate(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.deps.Manager.Start(ctx)
	r.logger.Info("realtime layer initialised", "status", string(r.Status()))
	return ctx.Err()
}

// Shutdown releases every handler and stops the hub connections.
func (r *Realtime) Shutdown() {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return
	}
	r.initialized = false
	subs := r.subs
	r.subs = nil
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	r.deps.Manager.Stop()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.logger.Info("realtime layer shut down")
}

// Reauthenticate restarts the instance, picking up a changed token.
func (r *Realtime) Reauthenticate(ctx context.Context) error {
	r.Shutdown()
	return r.Init(ctx)
}

// Status is the single connection indicator shown to the user.
func (r *Realtime) Status() domain.ConnectionStatus {
	hubs := r.deps.Manager.Hubs()
	statuses := make([]domain.ConnectionStatus, 0, len(hubs))
	for _, hub := range hubs {
		statuses = append(statuses, r.deps.Manager.Status(hub))
	}
	return domain.CombineStatus(statuses...)
}

// Describe reports each hub connection.
func (r *Realtime) Describe() []HubInfo {
	return r.deps.Manager.Describe()
}

func (r *Realtime) register(ctx context.Context) []Subscription {
	d := r.deps.Dispatcher
	return []Subscription{
		d.On(domain.EventNotificationReceived, func(payload any) {
			item, ok := r.deps.Notifications.ReceiveLive(payload)
			if ok && r.deps.Announcer != nil {
				r.deps.Announcer.AnnounceNotification(ctx, item)
			}
		}),
		d.On(domain.EventUnreadCountUpdated, func(payload any) {
			r.deps.Notifications.SetServerUnreadCount(payload)
		}),
		d.On(domain.EventTicketCreated, func(payload any) {
			ticket, ok := r.deps.Tickets.OnCreated(payload)
			if ok && r.deps.Announcer != nil {
				r.deps.Announcer.AnnounceTicket(ctx, ticket)
			}
		}),
		d.On(domain.EventTicketUpdated, func(payload any) {
			r.deps.Tickets.OnUpdated(payload)
		}),
		r.deps.Manager.OnStateChange(func(change domain.StateChange) {
			if change.Previous == domain.StateReconnecting && change.Current == domain.StateConnected {
				r.refetch(ctx, change.Hub)
			}
		}),
	}
}

// refetch reloads the read model fed by hub. Events missed while the hub
// was down are not replayed; this is how the models catch up.
func (r *Realtime) refetch(ctx context.Context, hub domain.HubName) {
	r.mu.Lock()
	if !r.initialized || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		logger := r.logger.With("hub", string(hub))
		logger.Info("hub reconnected, refetching over REST")

		var err error
		switch hub {
		case domain.HubNotifications:
			err = r.deps.Notifications.Reload(ctx)
		case domain.HubTickets:
			err = r.deps.Tickets.Hydrate(ctx)
		}
		if err != nil {
			logger.Warn("refetch after reconnect failed", "error", err)
		}
	}()
}

func (r *Realtime) hydrate(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := r.deps.Notifications.LoadPage(ctx, domain.DefaultNotificationQuery()); err != nil {
			r.logger.Warn("initial notification load failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := r.deps.Tickets.Hydrate(ctx); err != nil {
			r.logger.Warn("initial ticket hydration failed", "error", err)
		}
	}()
	wg.Wait()
}
