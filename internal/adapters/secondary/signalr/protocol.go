package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

// recordSeparator terminates every JSON hub protocol message.
const recordSeparator = 0x1e

// Hub protocol message types.
const (
	messageInvocation       = 1
	messageStreamItem       = 2
	messageCompletion       = 3
	messageStreamInvocation = 4
	messageCancelInvocation = 5
	messagePing             = 6
	messageClose            = 7
)

// hubMessage is the union of the hub protocol messages this client reads.
type hubMessage struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

var (
	handshakeRecord = mustRecord(handshakeRequest{Protocol: "json", Version: 1})
	pingRecord      = mustRecord(hubMessage{Type: messagePing})
)

// encodeRecord marshals v and appends the record separator.
func encodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

func mustRecord(v any) []byte {
	data, err := encodeRecord(v)
	if err != nil {
		panic(err)
	}
	return data
}

// splitRecords splits a transport payload into records. Empty records and
// a trailing partial record are dropped.
func splitRecords(data []byte) [][]byte {
	var records [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, recordSeparator)
		if i < 0 {
			break
		}
		if i > 0 {
			records = append(records, data[:i])
		}
		data = data[i+1:]
	}
	return records
}

// parseHandshake splits the handshake response off the first payload and
// returns whatever records followed it.
func parseHandshake(data []byte) ([]byte, error) {
	i := bytes.IndexByte(data, recordSeparator)
	if i < 0 {
		return nil, fmt.Errorf("%w: incomplete handshake response", apperrors.ErrHandshakeFailed)
	}
	var resp handshakeResponse
	if err := json.Unmarshal(data[:i], &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrHandshakeFailed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrHandshakeFailed, resp.Error)
	}
	return data[i+1:], nil
}

// endpointURL adds the connection id and access token query parameters to
// a hub URL and switches the scheme for WebSockets when ws is true.
func endpointURL(rawURL, connectionToken, accessToken string, ws bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url %q: %w", rawURL, err)
	}
	if ws {
		switch strings.ToLower(u.Scheme) {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		case "ws", "wss":
		default:
			return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
		}
	}
	q := u.Query()
	if connectionToken != "" {
		q.Set("id", connectionToken)
	}
	if ws && accessToken != "" {
		q.Set("access_token", accessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// negotiateURL returns the negotiate endpoint for a hub URL.
func negotiateURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url %q: %w", rawURL, err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
