package restapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/mocks"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
}

type backend struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recorded
}

func newBackend(t *testing.T, handler http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
		})
		b.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) recorded() []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recorded(nil), b.requests...)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	opts := DefaultOptions(baseURL)
	opts.RetryDelay = time.Millisecond
	opts.RateLimit = 0
	client, err := NewClient(opts, mocks.StaticToken("tok"), logging.NewNop())
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Options{}, mocks.StaticToken("tok"), nil)
	assert.Error(t, err)

	_, err = NewClient(Options{BaseURL: "not a url"}, mocks.StaticToken("tok"), nil)
	assert.Error(t, err)
}

func TestListNotifications(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{
			"items": [
				{"id": 7, "type": "warning", "title": "SLA", "message": "Ticket overdue", "isRead": false, "createdAt": "2024-05-01T10:00:00"},
				{"id": "8", "title": "Done", "read": true, "ticketId": 42}
			],
			"totalCount": 57
		}`)
	})
	client := newTestClient(t, b.server.URL+"/api/")

	page, err := client.ListNotifications(context.Background(), domain.DefaultNotificationQuery())
	require.NoError(t, err)

	assert.Equal(t, 57, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, domain.ID("7"), page.Items[0].ID)
	assert.Equal(t, domain.KindWarning, page.Items[0].Kind)
	assert.Equal(t, "Ticket overdue", page.Items[0].Description)
	assert.False(t, page.Items[0].Read)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), page.Items[0].CreatedAt)
	assert.True(t, page.Items[1].Read)
	require.NotNil(t, page.Items[1].RelatedEntityID)
	assert.Equal(t, domain.ID("42"), *page.Items[1].RelatedEntityID)

	reqs := b.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].method)
	assert.Equal(t, "/api/notifications", reqs[0].path)
	assert.Equal(t, "Skip=0&SortDirection=2&SortPropName=createdAt&Take=100", reqs[0].query)
	assert.Equal(t, "Bearer tok", reqs[0].header.Get("Authorization"))
	assert.Equal(t, "UZ", reqs[0].header.Get("Accept-Language"))
}

func TestListNotifications_TotalFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "total", body: `{"items":[{"id":1}],"total":9}`, want: 9},
		{name: "item count", body: `{"items":[{"id":1},{"id":2}]}`, want: 2},
		{name: "empty", body: `{}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})

			page, err := newTestClient(t, b.server.URL).ListNotifications(context.Background(), domain.NotificationQuery{Take: 10})
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.Total)
		})
	}
}

func TestListNotifications_FilterExpression(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[]}`)
	})

	_, err := newTestClient(t, b.server.URL).ListNotifications(context.Background(), domain.NotificationQuery{
		Skip:                20,
		Take:                10,
		FilteringExpression: "isRead == false",
	})
	require.NoError(t, err)

	reqs := b.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "FilteringExpression=isRead+%3D%3D+false&Skip=20&Take=10", reqs[0].query)
}

func TestMarkNotificationRead(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, b.server.URL)

	require.NoError(t, client.MarkNotificationRead(context.Background(), "n-1"))
	require.NoError(t, client.MarkAllNotificationsRead(context.Background()))
	assert.ErrorIs(t, client.MarkNotificationRead(context.Background(), ""), apperrors.ErrIDRequired)

	reqs := b.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPatch, reqs[0].method)
	assert.Equal(t, "/notifications/n-1/read", reqs[0].path)
	assert.Equal(t, http.MethodPatch, reqs[1].method)
	assert.Equal(t, "/notifications/me/read-all", reqs[1].path)
}

func TestListTickets(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[
			{"id": 1, "status": 2, "department": 0, "priority": 1, "title": "Brake check", "writerName": "Dilnoza"},
			{"id": 2, "status": 0, "department": 4, "priority": 0, "updatedAt": "2024-06-01T08:30:00Z"}
		]}`)
	})
	client := newTestClient(t, b.server.URL)

	tickets, err := client.ListTickets(context.Background(), 100, 50)
	require.NoError(t, err)

	require.Len(t, tickets, 2)
	assert.Equal(t, domain.ID("1"), tickets[0].ID)
	assert.Equal(t, domain.StatusInProgress, tickets[0].Status)
	assert.Equal(t, domain.PriorityMedium, tickets[0].Priority)
	assert.Equal(t, "Dilnoza", tickets[0].WriterName)
	require.NotNil(t, tickets[1].UpdatedAt)
	assert.Equal(t, 2024, tickets[1].UpdatedAt.Year())

	reqs := b.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/tickets", reqs[0].path)
	assert.Equal(t, "Skip=100&Take=50", reqs[0].query)
}

func TestListTickets_MissingItems(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	tickets, err := newTestClient(t, b.server.URL).ListTickets(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.NotNil(t, tickets)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     error
		wantMessage string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantErr: apperrors.ErrUnauthorized, wantMessage: "API error: 401"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"Access denied"}`, wantErr: apperrors.ErrForbidden, wantMessage: "Access denied"},
		{name: "not found", status: http.StatusNotFound, body: `{"title":"Not Found"}`, wantErr: apperrors.ErrNotFound, wantMessage: "Not Found"},
		{name: "bad request", status: http.StatusBadRequest, body: `not json`, wantErr: apperrors.ErrBadRequest, wantMessage: "API error: 400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := newTestClient(t, b.server.URL).ListTickets(context.Background(), 0, 100)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantMessage, err.Error())

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.Len(t, b.recorded(), 1, "client errors are not retried")
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{"message":"warming up"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"items":[{"id":1}]}`)
	})

	tickets, err := newTestClient(t, b.server.URL).ListTickets(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
	})

	_, err := newTestClient(t, b.server.URL).ListTickets(context.Background(), 0, 100)
	require.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Equal(t, "boom", err.Error())
	assert.Len(t, b.recorded(), 3)
}

func TestClient_WritesAreNotRetried(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{}`)
	})

	err := newTestClient(t, b.server.URL).MarkAllNotificationsRead(context.Background())
	require.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Len(t, b.recorded(), 1)
}

func TestClient_MalformedPayloadNotRetried(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items": [ broken`)
	})

	_, err := newTestClient(t, b.server.URL).ListNotifications(context.Background(), domain.NotificationQuery{Take: 10})
	require.ErrorIs(t, err, apperrors.ErrMalformedPayload)
	assert.Len(t, b.recorded(), 1)
}

func TestClient_CanceledDuringRetryDelay(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"message":"maintenance"}`)
	})
	opts := DefaultOptions(b.server.URL)
	opts.RetryDelay = 5 * time.Second
	opts.RateLimit = 0
	client, err := NewClient(opts, mocks.StaticToken("tok"), logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(b.recorded()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err = client.ListTickets(ctx, 0, 100)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrInternal)
	assert.Len(t, b.recorded(), 1)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_CallerDeadlineNotRetried(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"items":[]}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, b.server.URL).ListTickets(ctx, 0, 100)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, b.recorded(), 1)
}

func TestClient_NoToken(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	client, err := NewClient(Options{BaseURL: b.server.URL}, mocks.StaticToken(""), nil)
	require.NoError(t, err)

	_, err = client.ListTickets(context.Background(), 0, 100)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Empty(t, b.recorded())
}

func TestClient_RateLimited(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[]}`)
	})
	client, err := NewClient(Options{BaseURL: b.server.URL, RateLimit: 1, Burst: 1}, mocks.StaticToken("tok"), nil)
	require.NoError(t, err)

	_, err = client.ListTickets(context.Background(), 0, 100)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.ListTickets(ctx, 0, 100)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited, "second call must wait for a token past the deadline")
	assert.Len(t, b.recorded(), 1)
}
