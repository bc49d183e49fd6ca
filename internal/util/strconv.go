package util

import (
	"strconv"
	"strings"
	"time"
)

func Atoi(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// IntOr parses s as an int, returning def when s is empty or invalid.
func IntOr(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

// BoolOr parses s as a bool, returning def when s is empty or invalid.
func BoolOr(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

// DurationOr parses s as a time.Duration, returning def when s is empty or invalid.
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}
