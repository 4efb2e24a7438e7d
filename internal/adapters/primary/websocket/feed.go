package websocket

import (
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
)

// Event types pushed by the feed.
const (
	EventConnectionState = "CONNECTION_STATE"
	EventNotifications   = "NOTIFICATIONS"
	EventTickets         = "TICKETS"
)

// Sources are the read models and connections the feed mirrors. Nil
// sources are skipped.
type Sources struct {
	Connections   interface{ OnStateChange(func(domain.StateChange)) services.Subscription }
	Notifications interface{ Subscribe(func(services.NotificationSnapshot)) services.Subscription }
	Tickets       interface{ Subscribe(func(services.TicketSnapshot)) services.Subscription }
}

// StatePayload is the payload of CONNECTION_STATE.
type StatePayload struct {
	Hub      domain.HubName          `json:"hub"`
	Previous string                  `json:"previous"`
	Current  string                  `json:"current"`
	Status   domain.ConnectionStatus `json:"status"`
	Error    string                  `json:"error,omitempty"`
}

// NotificationsPayload is the payload of NOTIFICATIONS.
type NotificationsPayload struct {
	Items             []domain.NotificationItem `json:"items"`
	Total             int                       `json:"total"`
	UnreadCount       int                       `json:"unreadCount"`
	ServerUnreadCount *int                      `json:"serverUnreadCount,omitempty"`
	Loading           bool                      `json:"loading"`
	Error             string                    `json:"error,omitempty"`
}

// TicketsPayload is the payload of TICKETS.
type TicketsPayload struct {
	Tickets []domain.TicketSummary `json:"tickets"`
	Loading bool                   `json:"loading"`
	Error   string                 `json:"error,omitempty"`
}

// Attach subscribes the hub to src. Calling the returned subscription
// detaches it again.
func (h *Hub) Attach(src Sources) services.Subscription {
	var subs []services.Subscription

	if src.Connections != nil {
		subs = append(subs, src.Connections.OnStateChange(func(change domain.StateChange) {
			payload := StatePayload{
				Hub:      change.Hub,
				Previous: change.Previous.String(),
				Current:  change.Current.String(),
				Status:   change.Status,
			}
			if change.Err != nil {
				payload.Error = change.Err.Error()
			}
			h.Broadcast(Event{Type: EventConnectionState, Topic: TopicStatus, Payload: payload, Timestamp: change.At})
		}))
	}

	if src.Notifications != nil {
		subs = append(subs, src.Notifications.Subscribe(func(s services.NotificationSnapshot) {
			items := s.Items
			if items == nil {
				items = []domain.NotificationItem{}
			}
			h.Broadcast(Event{Type: EventNotifications, Topic: TopicNotifications, Payload: NotificationsPayload{
				Items:             items,
				Total:             s.Total,
				UnreadCount:       s.UnreadCount,
				ServerUnreadCount: s.ServerUnreadCount,
				Loading:           s.Loading,
				Error:             errorString(s.Error),
			}})
		}))
	}

	if src.Tickets != nil {
		subs = append(subs, src.Tickets.Subscribe(func(s services.TicketSnapshot) {
			tickets := s.Tickets
			if tickets == nil {
				tickets = []domain.TicketSummary{}
			}
			h.Broadcast(Event{Type: EventTickets, Topic: TopicTickets, Payload: TicketsPayload{
				Tickets: tickets,
				Loading: s.Loading,
				Error:   errorString(s.Error),
			}})
		}))
	}

	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
