package restapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

// notificationPage is the wire shape of GET /notifications. Older
// backends report the total as "total".
type notificationPage struct {
	Items      []domain.NotificationPayload `json:"items"`
	TotalCount *int                         `json:"totalCount"`
	Total      *int                         `json:"total"`
}

// ListNotifications fetches one page of the caller's notifications.
func (c *Client) ListNotifications(ctx context.Context, query domain.NotificationQuery) (domain.NotificationPage, error) {
	params := url.Values{}
	params.Set("Skip", strconv.Itoa(query.Skip))
	params.Set("Take", strconv.Itoa(query.Take))
	if query.SortPropName != "" {
		params.Set("SortPropName", query.SortPropName)
	}
	if query.SortDirection != 0 {
		params.Set("SortDirection", strconv.Itoa(query.SortDirection))
	}
	if query.FilteringExpression != "" {
		params.Set("FilteringExpression", query.FilteringExpression)
	}

	var page notificationPage
	err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "/notifications",
		query:     params,
		retryable: true,
	}, &page)
	if err != nil {
		return domain.NotificationPage{}, err
	}

	items := make([]domain.NotificationItem, 0, len(page.Items))
	for _, p := range page.Items {
		items = append(items, p.ToItem())
	}

	total := len(items)
	switch {
	case page.TotalCount != nil:
		total = *page.TotalCount
	case page.Total != nil:
		total = *page.Total
	}
	return domain.NotificationPage{Items: items, Total: total}, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id domain.ID) error {
	if id == "" {
		return apperrors.ErrIDRequired
	}
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/notifications/" + url.PathEscape(id.String()) + "/read",
	}, nil)
}

// MarkAllNotificationsRead marks every notification of the caller as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/notifications/me/read-all",
	}, nil)
}
