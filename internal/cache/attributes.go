package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Attributes is free-form entry metadata. Values must be JSON encodable;
// numbers read back from the store decode as float64, so use the typed
// accessors rather than asserting.
type Attributes map[string]any

// String returns the attribute as a string, or "" when absent.
func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the attribute as an integer. ok is false when the attribute
// is absent or not numeric.
func (a Attributes) Int64(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Time reads a unix-millisecond attribute.
func (a Attributes) Time(key string) (time.Time, bool) {
	ms, ok := a.Int64(key)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Decode re-encodes the attribute and unmarshals it into v. It is how
// structured values (a full record, say) come back out of the store.
func (a Attributes) Decode(key string, v any) error {
	raw, ok := a[key]
	if !ok {
		return fmt.Errorf("attribute %q not set", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode attribute %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode attribute %q: %w", key, err)
	}
	return nil
}

// With returns a copy of a with key set to v.
func (a Attributes) With(key string, v any) Attributes {
	out := make(Attributes, len(a)+1)
	for k, val := range a {
		out[k] = val
	}
	out[key] = v
	return out
}

func encodeAttributes(a Attributes) (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(s string) (Attributes, error) {
	a := Attributes{}
	if s == "" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return a, nil
}
