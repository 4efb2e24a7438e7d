package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// DefaultTicketPageSize is the page size used for hydration.
const DefaultTicketPageSize = 100

// TicketSnapshot is a copy of the ticket collection.
type TicketSnapshot struct {
	Tickets []domain.TicketSummary
	Loading bool
	Error   error
}

// TicketLiveSync keeps the client-side ticket collection current. Ticket
// ids are unique within the collection; order is not significant.
type TicketLiveSync struct {
	api      ports.TicketAPI
	pageSize int
	logger   *slog.Logger

	mu      sync.Mutex
	tickets []domain.TicketSummary
	loading bool
	err     error

	subscribers listeners[TicketSnapshot]
}

// NewTicketLiveSync creates an empty collection backed by api.
func NewTicketLiveSync(api ports.TicketAPI, pageSize int, logger *slog.Logger) *TicketLiveSync {
	if pageSize <= 0 {
		pageSize = DefaultTicketPageSize
	}
	return &TicketLiveSync{
		api:      api,
		pageSize: pageSize,
		logger:   logging.OrNop(logger).With("component", "ticket_live_sync"),
	}
}

// Hydrate loads every ticket page by page until a short page and replaces
// the collection. Duplicate ids across pages are kept once. On failure the
// collection is left as it was.
func (s *TicketLiveSync) Hydrate(ctx context.Context) error {
	s.setLoading(true)

	var all []domain.TicketSummary
	seen := make(map[domain.ID]bool)
	for skip := 0; ; skip += s.pageSize {
		page, err := s.api.ListTickets(ctx, skip, s.pageSize)
		if err != nil {
			s.mu.Lock()
			s.loading = false
			s.err = err
			s.mu.Unlock()
			s.logger.Warn("failed to hydrate tickets", "skip", skip, "error", err)
			s.publish()
			return err
		}

		added := 0
		for _, t := range page {
			if t.ID == "" || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			all = append(all, t)
			added++
		}

		if len(page) < s.pageSize || added == 0 {
			break
		}
	}

	s.mu.Lock()
	s.tickets = all
	s.loading = false
	s.err = nil
	s.mu.Unlock()

	s.logger.Debug("tickets hydrated", "count", len(all))
	s.publish()
	return nil
}

// OnCreated handles a NewTicket payload. It reports whether the ticket was
// inserted and returns it.
func (s *TicketLiveSync) OnCreated(payload any) (domain.TicketSummary, bool) {
	ticket, err := decodePayload[domain.TicketSummary](payload)
	if err != nil {
		s.logger.Debug("dropping malformed ticket", "error", err)
		return domain.TicketSummary{}, false
	}
	if !s.Create(ticket) {
		return domain.TicketSummary{}, false
	}
	return ticket, true
}

// OnUpdated handles a TicketUpdated payload.
func (s *TicketLiveSync) OnUpdated(payload any) bool {
	patch, err := decodePayload[domain.TicketPatch](payload)
	if err != nil {
		s.logger.Debug("dropping malformed ticket patch", "error", err)
		return false
	}
	return s.Update(patch)
}

// Create inserts t at the head of the collection unless its id is already
// present or empty. Unknown status and priority values are kept as sent.
func (s *TicketLiveSync) Create(t domain.TicketSummary) bool {
	if t.ID == "" {
		return false
	}
	if !t.Status.IsValid() || !t.Priority.IsValid() {
		s.logger.Debug("ticket has out-of-range fields",
			"id", t.ID.String(),
			"status", int(t.Status),
			"priority", int(t.Priority),
		)
	}

	s.mu.Lock()
	if indexOfTicket(s.tickets, t.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.tickets = append([]domain.TicketSummary{t}, s.tickets...)
	s.mu.Unlock()

	s.publish()
	return true
}

// Update merges the present fields of p onto the ticket with the same id.
// Unknown ids and patches without fields are ignored.
func (s *TicketLiveSync) Update(p domain.TicketPatch) bool {
	if p.ID == "" {
		return false
	}
	if p.IsEmpty() {
		s.logger.Debug("ignoring empty ticket patch", "id", p.ID.String())
		return false
	}

	s.mu.Lock()
	i := indexOfTicket(s.tickets, p.ID)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("ignoring update for unknown ticket", "id", p.ID.String())
		return false
	}
	p.ApplyTo(&s.tickets[i])
	s.mu.Unlock()

	s.publish()
	return true
}

// Get returns the ticket with id.
func (s *TicketLiveSync) Get(id domain.ID) (domain.TicketSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOfTicket(s.tickets, id); i >= 0 {
		return s.tickets[i], true
	}
	return domain.TicketSummary{}, false
}

// Len returns the number of tickets held.
func (s *TicketLiveSync) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// Snapshot returns a copy of the collection.
func (s *TicketLiveSync) Snapshot() TicketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TicketSnapshot{
		Tickets: append([]domain.TicketSummary(nil), s.tickets...),
		Loading: s.loading,
		Error:   s.err,
	}
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *TicketLiveSync) Subscribe(fn func(TicketSnapshot)) Subscription {
	return s.subscribers.add(fn)
}

func (s *TicketLiveSync) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
	s.publish()
}

func (s *TicketLiveSync) publish() {
	if s.subscribers.len() == 0 {
		return
	}
	s.subscribers.notify(s.Snapshot())
}

func indexOfTicket(tickets []domain.TicketSummary, id domain.ID) int {
	for i, t := range tickets {
		if t.ID == id {
			return i
		}
	}
	return -1
}
