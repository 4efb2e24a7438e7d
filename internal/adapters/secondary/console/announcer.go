package console

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// maxPreview is how much of a ticket's text goes into an announcement.
const maxPreview = 140

// Announcer writes live arrivals to the log in place of on-screen toasts.
// It implements the ports.Announcer interface.
type Announcer struct {
	logger *slog.Logger
}

var _ ports.Announcer = (*Announcer)(nil)

// NewAnnouncer creates a new log-backed announcer.
func NewAnnouncer(logger *slog.Logger) *Announcer {
	return &Announcer{
		logger: logging.OrNop(logger).With("component", "announcer"),
	}
}

// AnnounceNotification logs a toast for a new notification.
func (a *Announcer) AnnounceNotification(ctx context.Context, item domain.NotificationItem) {
	attrs := []any{
		"notification_id", item.ID,
		"kind", string(item.Kind),
		"title", item.Title,
		"message", item.Description,
	}
	if item.RelatedEntityID != nil {
		attrs = append(attrs, "link", domain.TicketLink(*item.RelatedEntityID))
	}
	a.logger.Log(ctx, levelFor(item.Kind), "new notification", attrs...)
}

// AnnounceTicket logs a toast for a newly created ticket with a link to
// its page.
func (a *Announcer) AnnounceTicket(ctx context.Context, ticket domain.TicketSummary) {
	writer := ticket.WriterName
	if writer == "" {
		writer = "Unknown"
	}
	a.logger.InfoContext(ctx, "new ticket",
		"ticket_id", ticket.ID,
		"writer", writer,
		"text", preview(firstNonBlank(ticket.Text, ticket.Title)),
		"department", domain.DepartmentName(ticket.Department),
		"priority", ticket.Priority.String(),
		"link", domain.TicketLink(ticket.ID),
	)
}

func levelFor(kind domain.NotificationKind) slog.Level {
	switch kind {
	case domain.KindError:
		return slog.LevelError
	case domain.KindWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPreview {
		return s
	}
	return string(runes[:maxPreview]) + "…"
}
