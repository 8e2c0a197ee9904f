// Package reservation defines the canonical unit of synced data: an open
// upstream-defined payload wrapped in a typed envelope carrying the fields
// the sync engine itself needs (identity, pick-up date, status).
package reservation

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// Reservation wraps one upstream record. Payload holds the record exactly as
// fetched (arbitrarily nested); the envelope fields are parsed copies used for
// identity matching and filtering, never a substitute for the payload.
type Reservation struct {
	ID         string
	PickUpDate time.Time // zero when absent or unparseable
	Status     string
	Payload    map[string]any
}

// ErrMissingID is returned when a payload carries no usable id field.
var ErrMissingID = errors.New("reservation payload has no id")

// FromPayload builds the envelope for a fetched record. The id is required;
// everything else is best effort because the upstream schema is open.
func FromPayload(payload map[string]any) (Reservation, error) {
	id, ok := IDString(payload["id"])
	if !ok {
		return Reservation{}, ErrMissingID
	}

	r := Reservation{ID: id, Payload: payload}

	if s, ok := GetString(payload, "status"); ok {
		r.Status = s
	}
	if s, ok := GetString(payload, "pick_up_date"); ok {
		if t, ok2 := ParseDate(s); ok2 {
			r.PickUpDate = t
		}
	}
	return r, nil
}

// IDString converts an upstream id value to its canonical string form.
// Upstream sends ids as strings or JSON numbers; decoded numbers arrive as
// float64, which is rendered without a fractional part when integral.
func IDString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// GetString safely extracts a string value from a map.
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// GetMap safely extracts a nested map from a map.
func GetMap(m map[string]any, k string) (map[string]any, bool) {
	if v, ok := m[k]; ok {
		if mm, ok2 := v.(map[string]any); ok2 {
			return mm, true
		}
	}
	return nil, false
}

// GetList safely extracts a list value from a map.
func GetList(m map[string]any, k string) ([]any, bool) {
	if v, ok := m[k]; ok {
		if l, ok2 := v.([]any); ok2 {
			return l, true
		}
	}
	return nil, false
}

// ParseDate accepts the date shapes the upstream is known to emit:
// RFC3339 timestamps and bare YYYY-MM-DD dates. Result is normalized to UTC.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
