package tables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldWarning records one source field that could not be coerced and was
// stored as NULL (or, for text, stringified) instead.
type FieldWarning struct {
	Record int    // index in the message list, -1 for channel info
	Field  string
	Value  string // raw JSON, truncated
	Reason string
}

func (w FieldWarning) String() string {
	if w.Record < 0 {
		return fmt.Sprintf("channel_info.%s=%s: %s", w.Field, w.Value, w.Reason)
	}
	return fmt.Sprintf("messages[%d].%s=%s: %s", w.Record, w.Field, w.Value, w.Reason)
}

const maxWarningValue = 64

func newWarning(field string, raw json.RawMessage, reason string) *FieldWarning {
	v := string(raw)
	if len(v) > maxWarningValue {
		v = v[:maxWarningValue] + "..."
	}
	return &FieldWarning{Field: field, Value: v, Reason: reason}
}

// isNull reports whether raw is missing or JSON null.
func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// timestampLayouts covers the ISO-8601 variants seen in scraper output.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 string. Values without an offset are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Unix seconds accepted by CoerceTimestamp: years 0001 through 9999.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

// CoerceTimestamp converts an ISO-8601 string or Unix seconds to a time.
// Missing, null and empty values are NULL without a warning.
func CoerceTimestamp(field string, raw json.RawMessage) (*time.Time, *FieldWarning) {
	if isNull(raw) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		text := string(bytes.TrimSpace(raw))
		if secs, err := strconv.ParseInt(text, 10, 64); err == nil {
			if secs < minUnixSeconds || secs > maxUnixSeconds {
				return nil, newWarning(field, raw, "unix time out of range")
			}
			t := time.Unix(secs, 0).UTC()
			return &t, nil
		}
		secs, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, newWarning(field, raw, "not a timestamp")
		}
		if !(secs >= minUnixSeconds && secs <= maxUnixSeconds) {
			return nil, newWarning(field, raw, "unix time out of range")
		}
		whole, frac := math.Modf(secs)
		t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
		return &t, nil
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, newWarning(field, raw, err.Error())
	}
	return &t, nil
}

// CoerceInt converts a JSON integer, an integral float or a numeric string.
func CoerceInt(field string, raw json.RawMessage) (*int64, *FieldWarning) {
	if isNull(raw) {
		return nil, nil
	}

	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, newWarning(field, raw, "invalid string")
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return nil, nil
		}
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, newWarning(field, raw, "not a number")
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f != math.Trunc(f) || f >= 9.223372036854775807e18 || f < math.MinInt64 {
		return nil, newWarning(field, raw, "not an integer")
	}
	v := int64(f)
	return &v, nil
}

// CoerceString returns JSON strings as-is and stringifies other scalars.
// Objects and arrays are NULL.
func CoerceString(field string, raw json.RawMessage) (*string, *FieldWarning) {
	if isNull(raw) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}

	t := bytes.TrimSpace(raw)
	switch t[0] {
	case '{', '[':
		return nil, newWarning(field, raw, "not a scalar")
	default:
		s = string(t)
		return &s, newWarning(field, raw, "non-string value stored as text")
	}
}

// CoerceBool accepts JSON booleans, 0/1 and common boolean strings.
func CoerceBool(field string, raw json.RawMessage) (*bool, *FieldWarning) {
	if isNull(raw) {
		return nil, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}

	text := string(bytes.TrimSpace(raw))
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = strings.TrimSpace(s)
		if text == "" {
			return nil, nil
		}
	}
	v, err := strconv.ParseBool(strings.ToLower(text))
	if err != nil {
		return nil, newWarning(field, raw, "not a boolean")
	}
	return &v, nil
}
