package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// NotificationSnapshot is a copy of the notification read model.
type NotificationSnapshot struct {
	Items       []domain.NotificationItem
	Total       int
	UnreadCount int
	// ServerUnreadCount is the last count pushed by the hub. It is kept for
	// display only and never replaces UnreadCount.
	ServerUnreadCount *int
	Loading           bool
	Error             error
	Query             domain.NotificationQuery
}

// NotificationReadModel merges REST pages and live pushes into one ordered
// notification list.
type NotificationReadModel struct {
	api    ports.NotificationAPI
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	items       []domain.NotificationItem
	total       int
	unread      int
	serverCount *int
	loading     bool
	err         error
	query       domain.NotificationQuery

	subscribers listeners[NotificationSnapshot]
}

// NewNotificationReadModel creates an empty read model backed by api.
func NewNotificationReadModel(api ports.NotificationAPI, logger *slog.Logger) *NotificationReadModel {
	return &NotificationReadModel{
		api:    api,
		logger: logging.OrNop(logger).With("component", "notification_read_model"),
		now:    time.Now,
		query:  domain.DefaultNotificationQuery(),
	}
}

// LoadPage fetches a page and replaces the loaded items with it. The unread
// count becomes the number of unread items on that page, not a server
// total. On failure the current items are kept and the error is recorded.
func (r *NotificationReadModel) LoadPage(ctx context.Context, query domain.NotificationQuery) (domain.NotificationPage, error) {
	if query.Take <= 0 {
		query.Take = domain.DefaultNotificationQuery().Take
	}

	r.mu.Lock()
	r.loading = true
	r.query = query
	r.mu.Unlock()
	r.publish()

	page, err := r.api.ListNotifications(ctx, query)

	r.mu.Lock()
	r.loading = false
	if err != nil {
		r.err = err
		r.mu.Unlock()
		r.logger.Warn("failed to load notifications", "error", err, "skip", query.Skip, "take", query.Take)
		r.publish()
		return domain.NotificationPage{}, err
	}
	r.items = append([]domain.NotificationItem(nil), page.Items...)
	r.total = page.Total
	r.unread = countUnread(r.items)
	r.err = nil
	r.mu.Unlock()

	r.publish()
	return page, nil
}

// Reload fetches the last requested page again.
func (r *NotificationReadModel) Reload(ctx context.Context) error {
	r.mu.Lock()
	query := r.query
	r.mu.Unlock()
	_, err := r.LoadPage(ctx, query)
	return err
}

// ReceiveLive prepends a pushed notification. It reports the stored item
// and false when the payload was malformed or its id is already present.
// A payload without an id gets a fresh one.
func (r *NotificationReadModel) ReceiveLive(payload any) (domain.NotificationItem, bool) {
	decoded, err := decodePayload[domain.NotificationPayload](payload)
	if err != nil {
		r.logger.Debug("dropping malformed notification", "error", err)
		return domain.NotificationItem{}, false
	}

	item := decoded.ToItem()
	if item.ID == "" {
		item.ID = domain.ID(uuid.NewString())
	}
	item.Read = false
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.now().UTC()
	}

	r.mu.Lock()
	if indexOfNotification(r.items, item.ID) >= 0 {
		r.mu.Unlock()
		r.logger.Debug("ignoring duplicate notification", "id", item.ID.String())
		return domain.NotificationItem{}, false
	}
	r.items = append([]domain.NotificationItem{item}, r.items...)
	r.total++
	r.unread++
	r.mu.Unlock()

	r.publish()
	return item, true
}

// MarkRead marks one notification read on the server and then locally.
func (r *NotificationReadModel) MarkRead(ctx context.Context, id domain.ID) error {
	if id == "" {
		return apperrors.ErrIDRequired
	}

	if err := r.api.MarkNotificationRead(ctx, id); err != nil {
		r.recordError(err)
		r.logger.Warn("failed to mark notification read", "id", id.String(), "error", err)
		return err
	}

	r.mu.Lock()
	if i := indexOfNotification(r.items, id); i >= 0 {
		r.items[i].Read = true
	}
	r.unread = countUnread(r.items)
	r.err = nil
	r.mu.Unlock()

	r.publish()
	return nil
}

// MarkAllRead marks every notification read on the server and then
// locally.
func (r *NotificationReadModel) MarkAllRead(ctx context.Context) error {
	if err := r.api.MarkAllNotificationsRead(ctx); err != nil {
		r.recordError(err)
		r.logger.Warn("failed to mark all notifications read", "error", err)
		return err
	}

	r.mu.Lock()
	for i := range r.items {
		r.items[i].Read = true
	}
	r.unread = 0
	r.err = nil
	r.mu.Unlock()

	r.publish()
	return nil
}

// SetServerUnreadCount records the count pushed by UnreadCountUpdated.
// Malformed or negative values are ignored.
func (r *NotificationReadModel) SetServerUnreadCount(payload any) {
	count, err := decodeCount(payload)
	if err != nil || count < 0 {
		r.logger.Debug("dropping malformed unread count", "payload", payload, "error", err)
		return
	}

	r.mu.Lock()
	r.serverCount = &count
	r.mu.Unlock()

	r.publish()
}

// Snapshot returns a copy of the current state.
func (r *NotificationReadModel) Snapshot() NotificationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change.
func (r *NotificationReadModel) Subscribe(fn func(NotificationSnapshot)) Subscription {
	return r.subscribers.add(fn)
}

func (r *NotificationReadModel) snapshotLocked() NotificationSnapshot {
	snap := NotificationSnapshot{
		Items:       append([]domain.NotificationItem(nil), r.items...),
		Total:       r.total,
		UnreadCount: r.unread,
		Loading:     r.loading,
		Error:       r.err,
		Query:       r.query,
	}
	if r.serverCount != nil {
		count := *r.serverCount
		snap.ServerUnreadCount = &count
	}
	return snap
}

func (r *NotificationReadModel) recordError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.publish()
}

func (r *NotificationReadModel) publish() {
	if r.subscribers.len() == 0 {
		return
	}
	r.subscribers.notify(r.Snapshot())
}

func countUnread(items []domain.NotificationItem) int {
	n := 0
	for _, item := range items {
		if !item.Read {
			n++
		}
	}
	return n
}

func indexOfNotification(items []domain.NotificationItem, id domain.ID) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// decodeCount accepts a bare JSON number or an object with a count field.
func decodeCount(payload any) (int, error) {
	switch v := payload.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}

	n, err := decodePayload[json.Number](payload)
	if err == nil {
		i, convErr := n.Int64()
		if convErr != nil {
			return 0, convErr
		}
		return int(i), nil
	}

	wrapped, wrapErr := decodePayload[struct {
		Count *int `json:"count"`
	}](payload)
	if wrapErr != nil || wrapped.Count == nil {
		return 0, err
	}
	return *wrapped.Count, nil
}
