package contract

import (
	"net/http"
	"testing"
	"time"
)

func TestParseHeaders(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Limit", "10")
	h.Set("X-RateLimit-Reset", now.Add(time.Minute).Format(time.RFC3339))

	got := ParseHeaders(h, DefaultHeaderNames(), now)
	if !got.HasRemaining || got.Remaining != 3 {
		t.Errorf("remaining = %d (present %v), want 3", got.Remaining, got.HasRemaining)
	}
	if !got.HasLimit || got.Limit != 10 {
		t.Errorf("limit = %d (present %v), want 10", got.Limit, got.HasLimit)
	}
	if !got.Reset.Equal(now.Add(time.Minute)) {
		t.Errorf("reset = %s, want %s", got.Reset, now.Add(time.Minute))
	}
	if got.HasRetryAfter {
		t.Errorf("retry-after should be absent")
	}
}

func TestParseResetFormats(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"30", now.Add(30 * time.Second)},
		{"1777593600", time.Unix(1777593600, 0)},
		{now.Add(time.Hour).Format(http.TimeFormat), now.Add(time.Hour)},
		{"-1", time.Time{}},
		{"tomorrow", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseReset(tt.raw, now); !got.Equal(tt.want) {
			t.Errorf("parseReset(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestLookupHeaderCaseVariance(t *testing.T) {
	h := http.Header{"X-Ratelimit-Remaining": {"8"}}
	if v, ok := LookupHeader(h, "X-RateLimit-Remaining"); !ok || v != "8" {
		t.Fatalf("LookupHeader = %q, %v", v, ok)
	}
	h = http.Header{"X-RATELIMIT-REMAINING": {"1"}}
	if v, ok := LookupHeader(h, "x-ratelimit-remaining"); !ok || v != "1" {
		t.Fatalf("LookupHeader upper = %q, %v", v, ok)
	}
	if _, ok := LookupHeader(h, ""); ok {
		t.Fatalf("empty name must not match")
	}
}

func TestHeaderNamesDefaults(t *testing.T) {
	got := HeaderNames{Remaining: "X-Quota-Left"}.withDefaults()
	if got.Remaining != "X-Quota-Left" || got.RetryAfter != DefaultRetryAfterHeader || got.Limit != DefaultLimitHeader {
		t.Fatalf("unexpected defaults %+v", got)
	}
}
