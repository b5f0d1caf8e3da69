package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is an opaque structured value (reward configuration, request
// context, task snapshots). The engine stores and forwards it verbatim.
type Payload map[string]any

// Value implements driver.Valuer by encoding the payload as JSON.
// A nil payload is stored as an empty object.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

// Scan implements sql.Scanner for JSON encoded columns (JSONB or TEXT).
func (p *Payload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: unsupported source type %T", ErrInvalidPayload, src)
	}

	if len(raw) == 0 {
		*p = Payload{}
		return nil
	}

	decoded := map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	*p = decoded
	return nil
}

// Clone returns a shallow copy so callers can attach the payload to a new
// entity without sharing the top-level map.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
