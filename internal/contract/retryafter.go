package contract

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter converts a retry hint into a non-negative wait in whole seconds.
//
// The hint is either delta-seconds ("120") or an HTTP-date. Absent, empty or
// unparseable values yield 0, as do dates that already passed. A date in the
// future is rounded up to the next whole second.
func ParseRetryAfter(value string, now time.Time) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return secs
	}

	deadline, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	delta := deadline.Sub(now)
	if delta <= 0 {
		return 0
	}
	secs := math.Ceil(delta.Seconds())
	if secs > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(secs)
}

// RetryAfterFromHeader reads the retry hint named by names from h.
func RetryAfterFromHeader(h http.Header, names HeaderNames, now time.Time) int {
	raw, ok := LookupHeader(h, names.withDefaults().RetryAfter)
	if !ok {
		return 0
	}
	return ParseRetryAfter(raw, now)
}
