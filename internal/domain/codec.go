package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is returned when a stored document does not satisfy the
// record schema it is decoded into.
var ErrInvalidRecord = errors.New("invalid record")

func invalid(kind, id, format string, args ...interface{}) error {
	return fmt.Errorf("%s %s: %s: %w", kind, id, fmt.Sprintf(format, args...), ErrInvalidRecord)
}

// Document values arrive either from Firestore (int64, float64, time.Time,
// []interface{}, map[string]interface{}) or from the in-memory store, which
// keeps whatever Go values were written. The helpers below accept both.

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(m map[string]interface{}, key string) (value bool, present bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func floatField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func intField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func timeField(m map[string]interface{}, key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func mapField(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key].(map[string]interface{})
	return v, ok
}

func stringSliceField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringMapField(m map[string]interface{}, key string) map[string]string {
	switch v := m[key].(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
