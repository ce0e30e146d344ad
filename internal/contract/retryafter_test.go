package contract

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "delta seconds", value: "120", want: 120},
		{name: "zero", value: "0", want: 0},
		{name: "surrounding whitespace", value: "  7 ", want: 7},
		{name: "empty", value: "", want: 0},
		{name: "negative integer", value: "-5", want: 0},
		{name: "garbage", value: "soon", want: 0},
		{name: "fractional seconds", value: "1.5", want: 0},
		{name: "http date in future", value: now.Add(5 * time.Second).Format(http.TimeFormat), want: 5},
		{name: "http date in past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "http date now", value: now.Format(http.TimeFormat), want: 0},
		{name: "rfc850 date", value: now.Add(10 * time.Second).Format(time.RFC850), want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterRoundsUp(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	now := deadline.Add(-4*time.Second - 300*time.Millisecond)
	if got := ParseRetryAfter(deadline.Format(http.TimeFormat), now); got != 5 {
		t.Fatalf("ParseRetryAfter(4.3s ahead) = %d, want 5", got)
	}
}

func TestParseRetryAfterWallClock(t *testing.T) {
	value := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	got := ParseRetryAfter(value, time.Now())
	if got != 4 && got != 5 {
		t.Fatalf("ParseRetryAfter(+5s) = %d, want 4 or 5", got)
	}
}

func TestRetryAfterFromHeaderAbsent(t *testing.T) {
	if got := RetryAfterFromHeader(http.Header{}, DefaultHeaderNames(), time.Now()); got != 0 {
		t.Fatalf("absent header = %d, want 0", got)
	}
	if got := RetryAfterFromHeader(nil, HeaderNames{}, time.Now()); got != 0 {
		t.Fatalf("nil header = %d, want 0", got)
	}
}

func TestRetryAfterFromHeaderCustomName(t *testing.T) {
	h := http.Header{}
	h.Set("X-Retry-In", "9")
	names := HeaderNames{RetryAfter: "x-retry-in"}
	if got := RetryAfterFromHeader(h, names, time.Now()); got != 9 {
		t.Fatalf("custom header = %d, want 9", got)
	}
}
