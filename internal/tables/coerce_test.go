package tables

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCoerceTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string // RFC3339Nano, empty for NULL
		wantWarn bool
	}{
		{"missing", "", "", false},
		{"null", "null", "", false},
		{"empty string", `""`, "", false},
		{"zulu", `"2024-06-01T10:15:00Z"`, "2024-06-01T10:15:00Z", false},
		{"offset", `"2024-06-01T13:15:00+03:00"`, "2024-06-01T10:15:00Z", false},
		{"offset-less with microseconds", `"2024-06-01T10:15:00.123456"`, "2024-06-01T10:15:00.123456Z", false},
		{"space separator", `"2024-06-01 10:15:00"`, "2024-06-01T10:15:00Z", false},
		{"date only", `"2024-06-01"`, "2024-06-01T00:00:00Z", false},
		{"unix seconds", `1717236900`, "2024-06-01T10:15:00Z", false},
		{"fractional unix seconds", `1717236900.5`, "2024-06-01T10:15:00.5Z", false},
		{"unix seconds past year 9999", `1e300`, "", true},
		{"huge integer unix seconds", `9223372036854775807`, "", true},
		{"unix seconds before year 1", `-70000000000`, "", true},
		{"garbage", `"yesterday"`, "", true},
		{"object", `{"a":1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, w := CoerceTimestamp("date", json.RawMessage(tt.raw))
			if (w != nil) != tt.wantWarn {
				t.Fatalf("warning = %v, wantWarn %v", w, tt.wantWarn)
			}
			if tt.want == "" {
				if got != nil {
					t.Fatalf("got %v, want NULL", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got NULL")
			}
			if s := got.Format(time.RFC3339Nano); s != tt.want {
				t.Errorf("got %s, want %s", s, tt.want)
			}
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		raw      string
		want     int64
		wantNil  bool
		wantWarn bool
	}{
		{"", 0, true, false},
		{"null", 0, true, false},
		{"42", 42, false, false},
		{"42.0", 42, false, false},
		{`"17"`, 17, false, false},
		{`""`, 0, true, false},
		{"4.5", 0, true, true},
		{"9223372036854775807", 9223372036854775807, false, false},
		{"-9223372036854775808", -9223372036854775808, false, false},
		{"9223372036854775808", 0, true, true},
		{"9.3e18", 0, true, true},
		{"-1e19", 0, true, true},
		{`"many"`, 0, true, true},
		{`{"replies":3}`, 0, true, true},
	}

	for _, tt := range tests {
		got, w := CoerceInt("views", json.RawMessage(tt.raw))
		if (w != nil) != tt.wantWarn {
			t.Errorf("CoerceInt(%s) warning = %v, wantWarn %v", tt.raw, w, tt.wantWarn)
		}
		if tt.wantNil {
			if got != nil {
				t.Errorf("CoerceInt(%s) = %d, want NULL", tt.raw, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("CoerceInt(%s) = %v, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestCoerceString(t *testing.T) {
	if got, w := CoerceString("message", json.RawMessage(`"hello"`)); got == nil || *got != "hello" || w != nil {
		t.Errorf("string: got %v %v", got, w)
	}
	if got, w := CoerceString("message", json.RawMessage(`123`)); got == nil || *got != "123" || w == nil {
		t.Errorf("number should be stringified with a warning: got %v %v", got, w)
	}
	if got, w := CoerceString("message", json.RawMessage(`["a"]`)); got != nil || w == nil {
		t.Errorf("array should be NULL with a warning: got %v %v", got, w)
	}
	if got, w := CoerceString("message", nil); got != nil || w != nil {
		t.Errorf("missing should be NULL without warning: got %v %v", got, w)
	}
}

func TestCoerceBool(t *testing.T) {
	cases := map[string]*bool{
		"true":    ptr(true),
		"false":   ptr(false),
		`"True"`:  ptr(true),
		"1":       ptr(true),
		"0":       ptr(false),
		"null":    nil,
		`""`:      nil,
		`"maybe"`: nil,
	}
	for raw, want := range cases {
		got, _ := CoerceBool("has_media", json.RawMessage(raw))
		switch {
		case want == nil && got != nil:
			t.Errorf("CoerceBool(%s) = %v, want NULL", raw, *got)
		case want != nil && (got == nil || *got != *want):
			t.Errorf("CoerceBool(%s) = %v, want %v", raw, got, *want)
		}
	}
	if _, w := CoerceBool("has_media", json.RawMessage(`"maybe"`)); w == nil {
		t.Error("unparseable bool should warn")
	}
}

func ptr[T any](v T) *T { return &v }
