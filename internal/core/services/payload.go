package services

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

// decodePayload turns a dispatcher payload into T. Hub events carry raw
// JSON; in-process callers may pass the typed value directly.
func decodePayload[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case nil:
		return out, fmt.Errorf("%w: empty payload", apperrors.ErrMalformedPayload)
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("%w: nil payload", apperrors.ErrMalformedPayload)
		}
		return *p, nil
	case json.RawMessage:
		return unmarshalPayload[T](p)
	case []byte:
		return unmarshalPayload[T](p)
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
		}
		return unmarshalPayload[T](raw)
	}
}

func unmarshalPayload[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, fmt.Errorf("%w: empty payload", apperrors.ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
	}
	return out, nil
}
