package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
)

// NotificationStore is the notification read model as seen by the status
// API.
type NotificationStore interface {
	Snapshot() services.NotificationSnapshot
	Reload(ctx context.Context) error
	MarkRead(ctx context.Context, id domain.ID) error
	MarkAllRead(ctx context.Context) error
}

// TicketStore is the ticket collection as seen by the status API.
type TicketStore interface {
	Snapshot() services.TicketSnapshot
	Get(id domain.ID) (domain.TicketSummary, bool)
}

// StatusHandler serves the connection status and read-model snapshots.
type StatusHandler struct {
	connections   ConnectionReporter
	notifications NotificationStore
	tickets       TicketStore
	errorHandler  *ErrorHandler
	logger        *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(
	connections ConnectionReporter,
	notifications NotificationStore,
	tickets TicketStore,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *StatusHandler {
	return &StatusHandler{
		connections:   connections,
		notifications: notifications,
		tickets:       tickets,
		errorHandler:  errorHandler,
		logger:        logger.With("handler", "status"),
	}
}

// RegisterRoutes sets up the routing for the status endpoints.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.HandleStatus)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleListNotifications)
		r.Post("/reload", h.HandleReloadNotifications)
		r.Post("/read-all", h.HandleMarkAllRead)
		r.Post("/{notificationID}/read", h.HandleMarkRead)
	})

	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.HandleListTickets)
		r.Get("/{ticketID}", h.HandleGetTicket)
	})
}

// --- Response DTOs ---

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        domain.ConnectionStatus `json:"status"`
	Hubs          []services.HubInfo      `json:"hubs"`
	Notifications NotificationsSummary    `json:"notifications"`
	Tickets       TicketsSummary          `json:"tickets"`
	Timestamp     string                  `json:"timestamp"`
}

// NotificationsSummary condenses the notification read model.
type NotificationsSummary struct {
	Loaded            int    `json:"loaded"`
	Total             int    `json:"total"`
	UnreadCount       int    `json:"unreadCount"`
	ServerUnreadCount *int   `json:"serverUnreadCount,omitempty"`
	Loading           bool   `json:"loading"`
	Error             string `json:"error,omitempty"`
}

// TicketsSummary condenses the ticket collection.
type TicketsSummary struct {
	Count   int    `json:"count"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// NotificationsResponse is the body of GET /notifications.
type NotificationsResponse struct {
	Items []domain.NotificationItem `json:"items"`
	NotificationsSummary
}

func summarizeNotifications(s services.NotificationSnapshot) NotificationsSummary {
	return NotificationsSummary{
		Loaded:            len(s.Items),
		Total:             s.Total,
		UnreadCount:       s.UnreadCount,
		ServerUnreadCount: s.ServerUnreadCount,
		Loading:           s.Loading,
		Error:             errorString(s.Error),
	}
}

// --- Handlers ---

// HandleStatus reports the combined connection status, each hub and a
// summary of both read models.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	notifications := h.notifications.Snapshot()
	tickets := h.tickets.Snapshot()

	WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        h.connections.Status(),
		Hubs:          h.connections.Describe(),
		Notifications: summarizeNotifications(notifications),
		Tickets: TicketsSummary{
			Count:   len(tickets.Tickets),
			Loading: tickets.Loading,
			Error:   errorString(tickets.Error),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleListNotifications returns the loaded notifications, newest first.
func (h *StatusHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	snapshot := h.notifications.Snapshot()
	items := snapshot.Items
	if items == nil {
		items = []domain.NotificationItem{}
	}

	if r.URL.Query().Get("unread") == "true" {
		unread := make([]domain.NotificationItem, 0, snapshot.UnreadCount)
		for _, item := range items {
			if !item.Read {
				unread = append(unread, item)
			}
		}
		items = unread
	}

	WriteJSON(w, http.StatusOK, NotificationsResponse{
		Items:                items,
		NotificationsSummary: summarizeNotifications(snapshot),
	})
}

// HandleReloadNotifications refetches the current notification page.
func (h *StatusHandler) HandleReloadNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Reload(r.Context()); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	WriteNoContent(w)
}

// HandleMarkRead marks one notification as read.
func (h *StatusHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "notificationID"))
	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	WriteNoContent(w)
}

// HandleMarkAllRead marks every notification as read.
func (h *StatusHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAllRead(r.Context()); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	WriteNoContent(w)
}

// HandleListTickets returns the ticket collection, optionally filtered by
// status or department.
func (h *StatusHandler) HandleListTickets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status, err := optionalInt(query.Get("status"))
	if err != nil {
		h.errorHandler.Handle(w, r, fmt.Errorf("%w: invalid status filter", apperrors.ErrBadRequest))
		return
	}
	department, err := optionalInt(query.Get("department"))
	if err != nil {
		h.errorHandler.Handle(w, r, fmt.Errorf("%w: invalid department filter", apperrors.ErrBadRequest))
		return
	}

	tickets := h.tickets.Snapshot().Tickets
	filtered := make([]domain.TicketSummary, 0, len(tickets))
	for _, t := range tickets {
		if status != nil && int(t.Status) != *status {
			continue
		}
		if department != nil && t.Department != *department {
			continue
		}
		filtered = append(filtered, t)
	}

	WriteList(w, filtered)
}

// HandleGetTicket returns a single ticket from the collection.
func (h *StatusHandler) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.tickets.Get(domain.ID(chi.URLParam(r, "ticketID")))
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, ticket)
}

func optionalInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
