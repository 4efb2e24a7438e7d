package ports

import (
	"context"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// NotificationAPI is the REST collaborator for notifications.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, query domain.NotificationQuery) (domain.NotificationPage, error)
	MarkNotificationRead(ctx context.Context, id domain.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// TicketAPI is the REST collaborator for tickets.
type TicketAPI interface {
	// ListTickets returns one page of tickets.
	ListTickets(ctx context.Context, skip, take int) ([]domain.TicketSummary, error)
}

// Announcer surfaces live arrivals to the user (toasts in a browser, log
// lines in the agent). Implementations must not block.
type Announcer interface {
	AnnounceNotification(ctx context.Context, item domain.NotificationItem)
	AnnounceTicket(ctx context.Context, ticket domain.TicketSummary)
}
