package domain

import (
	"strings"
	"time"
)

// NotificationKind is the severity of a notification.
type NotificationKind string

const (
	KindInfo    NotificationKind = "info"
	KindSuccess NotificationKind = "success"
	KindWarning NotificationKind = "warning"
	KindError   NotificationKind = "error"
)

// ParseNotificationKind maps a server value onto a kind. Unknown or empty
// values are treated as info.
func ParseNotificationKind(s string) NotificationKind {
	switch NotificationKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSuccess:
		return KindSuccess
	case KindWarning:
		return KindWarning
	case KindError:
		return KindError
	default:
		return KindInfo
	}
}

// NotificationItem is one entry of the notification read model.
type NotificationItem struct {
	ID              ID               `json:"id"`
	Kind            NotificationKind `json:"kind"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Read            bool             `json:"read"`
	CreatedAt       time.Time        `json:"createdAt"`
	RelatedEntityID *ID              `json:"relatedEntityId,omitempty"`
}

// NotificationPayload is the wire shape of a notification, both in REST
// pages and in ReceiveNotification pushes. Several fields have aliases
// because the backend has used different names over time.
type NotificationPayload struct {
	ID              ID         `json:"id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Message         string     `json:"message"`
	Text            string     `json:"text"`
	IsRead          *bool      `json:"isRead"`
	Read            *bool      `json:"read"`
	CreatedAt       *Timestamp `json:"createdAt"`
	RelatedEntityID *ID        `json:"relatedEntityId"`
	TicketID        *ID        `json:"ticketId"`
}

// ToItem converts the payload into a read-model item. isRead wins over
// read; the description falls back to message and then text.
func (p NotificationPayload) ToItem() NotificationItem {
	item := NotificationItem{
		ID:          p.ID,
		Kind:        ParseNotificationKind(p.Type),
		Title:       p.Title,
		Description: firstNonEmpty(p.Description, p.Message, p.Text),
	}
	switch {
	case p.IsRead != nil:
		item.Read = *p.IsRead
	case p.Read != nil:
		item.Read = *p.Read
	}
	if p.CreatedAt != nil {
		item.CreatedAt = p.CreatedAt.Time
	}
	switch {
	case p.RelatedEntityID != nil && *p.RelatedEntityID != "":
		related := *p.RelatedEntityID
		item.RelatedEntityID = &related
	case p.TicketID != nil && *p.TicketID != "":
		related := *p.TicketID
		item.RelatedEntityID = &related
	}
	return item
}

// NotificationQuery holds the paging, sorting and filter parameters of a
// notification page request.
type NotificationQuery struct {
	Skip                int
	Take                int
	SortPropName        string
	SortDirection       int
	FilteringExpression string
}

// Sort directions understood by the backend.
const (
	SortAscending  = 1
	SortDescending = 2
)

// DefaultNotificationQuery returns the first page, newest first.
func DefaultNotificationQuery() NotificationQuery {
	return NotificationQuery{
		Skip:          0,
		Take:          100,
		SortPropName:  "createdAt",
		SortDirection: SortDescending,
	}
}

// NotificationPage is one page of notifications plus the server total.
type NotificationPage struct {
	Items []NotificationItem
	Total int
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
