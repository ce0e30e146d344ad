package contract

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default header names emitted by the rate limiter under test.
const (
	DefaultRemainingHeader  = "X-RateLimit-Remaining"
	DefaultLimitHeader      = "X-RateLimit-Limit"
	DefaultResetHeader      = "X-RateLimit-Reset"
	DefaultRetryAfterHeader = "Retry-After"
)

// unixResetThreshold separates delta-seconds reset values from unix timestamps.
const unixResetThreshold = 1_000_000_000

// HeaderNames names the rate-limit headers inspected on every response.
type HeaderNames struct {
	Remaining  string
	Limit      string
	Reset      string
	RetryAfter string
}

// DefaultHeaderNames returns the conventional X-RateLimit-* / Retry-After names.
func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Remaining:  DefaultRemainingHeader,
		Limit:      DefaultLimitHeader,
		Reset:      DefaultResetHeader,
		RetryAfter: DefaultRetryAfterHeader,
	}
}

func (n HeaderNames) withDefaults() HeaderNames {
	def := DefaultHeaderNames()
	if strings.TrimSpace(n.Remaining) == "" {
		n.Remaining = def.Remaining
	}
	if strings.TrimSpace(n.Limit) == "" {
		n.Limit = def.Limit
	}
	if strings.TrimSpace(n.Reset) == "" {
		n.Reset = def.Reset
	}
	if strings.TrimSpace(n.RetryAfter) == "" {
		n.RetryAfter = def.RetryAfter
	}
	return n
}

// Headers is the parsed view of a response's rate-limit metadata.
// Remaining, Limit and Reset are informational; only presence is part of the contract.
type Headers struct {
	Remaining     int       `json:"remaining" yaml:"remaining"`
	HasRemaining  bool      `json:"has_remaining" yaml:"has_remaining"`
	Limit         int       `json:"limit" yaml:"limit"`
	HasLimit      bool      `json:"has_limit" yaml:"has_limit"`
	Reset         time.Time `json:"reset,omitempty" yaml:"reset,omitempty"`
	RetryAfter    string    `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
	HasRetryAfter bool      `json:"has_retry_after" yaml:"has_retry_after"`
}

// ParseHeaders extracts rate-limit metadata from h. Unparseable numeric values
// leave the field at zero but still count as present. A retry hint with an
// empty value counts as absent.
func ParseHeaders(h http.Header, names HeaderNames, now time.Time) Headers {
	names = names.withDefaults()
	var out Headers

	if raw, ok := LookupHeader(h, names.Remaining); ok {
		out.HasRemaining = true
		out.Remaining, _ = strconv.Atoi(raw)
	}
	if raw, ok := LookupHeader(h, names.Limit); ok {
		out.HasLimit = true
		out.Limit, _ = strconv.Atoi(raw)
	}
	if raw, ok := LookupHeader(h, names.Reset); ok {
		out.Reset = parseReset(raw, now)
	}
	if raw, ok := LookupHeader(h, names.RetryAfter); ok && raw != "" {
		out.HasRetryAfter = true
		out.RetryAfter = raw
	}
	return out
}

// LookupHeader finds name in h regardless of letter casing. Intermediate proxies
// sometimes store keys that bypass canonicalization (for example
// "x-ratelimit-remaining" or "X-Ratelimit-Remaining"), so a canonical lookup
// is followed by a case-folded scan.
func LookupHeader(h http.Header, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if h == nil || name == "" {
		return "", false
	}
	if vals, ok := h[http.CanonicalHeaderKey(name)]; ok && len(vals) > 0 {
		return strings.TrimSpace(vals[0]), true
	}
	for key, vals := range h {
		if strings.EqualFold(key, name) && len(vals) > 0 {
			return strings.TrimSpace(vals[0]), true
		}
	}
	return "", false
}

// parseReset accepts unix seconds, delta seconds, RFC3339 or an HTTP-date.
func parseReset(raw string, now time.Time) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}
		}
		if n >= unixResetThreshold {
			return time.Unix(n, 0)
		}
		return now.Add(time.Duration(n) * time.Second)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := http.ParseTime(raw); err == nil {
		return t
	}
	return time.Time{}
}
