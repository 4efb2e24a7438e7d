package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

// maxRedirects bounds negotiate responses that point at another server.
const maxRedirects = 100

// Transport names used in negotiate responses.
const (
	transportWebSockets  = "WebSockets"
	transportLongPolling = "LongPolling"
)

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []availableTransport `json:"availableTransports"`
	URL                 string               `json:"url"`
	AccessToken         string               `json:"accessToken"`
	Error               string               `json:"error"`
}

// negotiation is the outcome of a negotiate exchange, after redirects.
type negotiation struct {
	url             string
	accessToken     string
	connectionID    string
	connectionToken string
	transports      []availableTransport
}

func (n negotiation) offers(name string) bool {
	for _, t := range n.transports {
		if strings.EqualFold(t.Transport, name) {
			for _, f := range t.TransferFormats {
				if strings.EqualFold(f, "Text") {
					return true
				}
			}
		}
	}
	return false
}

// negotiate performs the negotiate exchange for a hub URL, following
// redirects to another URL or access token.
func (f *Factory) negotiate(ctx context.Context, hubURL, token string) (negotiation, error) {
	current := negotiation{url: hubURL, accessToken: token}

	for i := 0; i < maxRedirects; i++ {
		resp, err := f.negotiateOnce(ctx, current.url, current.accessToken)
		if err != nil {
			return negotiation{}, err
		}
		if resp.Error != "" {
			return negotiation{}, fmt.Errorf("%w: %s", apperrors.ErrNegotiationFailed, resp.Error)
		}
		if resp.URL != "" {
			current.url = resp.URL
			if resp.AccessToken != "" {
				current.accessToken = resp.AccessToken
			}
			continue
		}

		current.connectionID = resp.ConnectionID
		current.connectionToken = resp.ConnectionToken
		if resp.NegotiateVersion < 1 || current.connectionToken == "" {
			current.connectionToken = resp.ConnectionID
		}
		current.transports = resp.AvailableTransports
		return current, nil
	}
	return negotiation{}, fmt.Errorf("%w: too many redirects", apperrors.ErrNegotiationFailed)
}

func (f *Factory) negotiateOnce(ctx context.Context, hubURL, token string) (negotiateResponse, error) {
	endpoint, err := negotiateURL(hubURL)
	if err != nil {
		return negotiateResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return negotiateResponse{}, err
	}
	f.decorate(req, token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: %v", apperrors.ErrNegotiationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: reading response: %v", apperrors.ErrNegotiationFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return negotiateResponse{}, fmt.Errorf("%w: negotiate returned %d", apperrors.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		return negotiateResponse{}, fmt.Errorf("%w: negotiate returned %d", apperrors.ErrForbidden, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return negotiateResponse{}, fmt.Errorf("%w: status %d", apperrors.ErrNegotiationFailed, resp.StatusCode)
	}

	var out negotiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: invalid response: %v", apperrors.ErrNegotiationFailed, err)
	}
	return out, nil
}
