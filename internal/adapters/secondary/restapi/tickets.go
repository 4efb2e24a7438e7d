package restapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

type ticketPage struct {
	Items []domain.TicketSummary `json:"items"`
}

// ListTickets fetches one page of tickets.
func (c *Client) ListTickets(ctx context.Context, skip, take int) ([]domain.TicketSummary, error) {
	params := url.Values{}
	params.Set("Skip", strconv.Itoa(skip))
	params.Set("Take", strconv.Itoa(take))

	var page ticketPage
	err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "/tickets",
		query:     params,
		retryable: true,
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.Items == nil {
		return []domain.TicketSummary{}, nil
	}
	return page.Items, nil
}
