package contract

import (
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func newResponse(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func fixedClassifier() *Classifier {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewClassifier(DefaultHeaderNames())
	c.Now = func() time.Time { return now }
	return c
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		resp           *http.Response
		wantKind       Kind
		wantViolations []Violation
		wantRetry      int
	}{
		{
			name:     "allowed with quota header",
			resp:     newResponse(200, map[string]string{"X-RateLimit-Remaining": "4", "X-RateLimit-Limit": "5"}),
			wantKind: KindAllowed,
		},
		{
			name:           "allowed without quota header",
			resp:           newResponse(200, nil),
			wantKind:       KindAllowed,
			wantViolations: []Violation{ViolationMissingRemaining},
		},
		{
			name:      "blocked with numeric hint",
			resp:      newResponse(429, map[string]string{"X-RateLimit-Remaining": "0", "Retry-After": "12"}),
			wantKind:  KindBlocked,
			wantRetry: 12,
		},
		{
			name:           "blocked without retry hint",
			resp:           newResponse(429, map[string]string{"X-RateLimit-Remaining": "0"}),
			wantKind:       KindBlocked,
			wantViolations: []Violation{ViolationMissingRetryAfter},
		},
		{
			name:           "blocked without any header",
			resp:           newResponse(429, nil),
			wantKind:       KindBlocked,
			wantViolations: []Violation{ViolationMissingRemaining, ViolationMissingRetryAfter},
		},
		{
			name:      "blocked with unparseable hint degrades to zero",
			resp:      newResponse(429, map[string]string{"X-RateLimit-Remaining": "0", "Retry-After": "later"}),
			wantKind:  KindBlocked,
			wantRetry: 0,
		},
		{
			name:           "server error is malformed",
			resp:           newResponse(503, map[string]string{"X-RateLimit-Remaining": "3"}),
			wantKind:       KindMalformed,
			wantViolations: []Violation{ViolationUnexpectedStatus},
		},
		{
			name:           "created is not allowed",
			resp:           newResponse(201, nil),
			wantKind:       KindMalformed,
			wantViolations: []Violation{ViolationUnexpectedStatus, ViolationMissingRemaining},
		},
		{
			name:           "nil response",
			resp:           nil,
			wantKind:       KindMalformed,
			wantViolations: []Violation{ViolationTransport},
		},
	}

	c := fixedClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.resp, nil, 10*time.Millisecond)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if !reflect.DeepEqual(got.Violations, tt.wantViolations) {
				t.Errorf("Violations = %v, want %v", got.Violations, tt.wantViolations)
			}
			if got.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %d, want %d", got.RetryAfter, tt.wantRetry)
			}
			if got.Latency != 10*time.Millisecond {
				t.Errorf("Latency = %s, want 10ms", got.Latency)
			}
		})
	}
}

func TestClassifyBlockedHTTPDateHint(t *testing.T) {
	c := fixedClassifier()
	deadline := c.Now().Add(30 * time.Second).Format(http.TimeFormat)
	got := c.Classify(newResponse(429, map[string]string{"X-RateLimit-Remaining": "0", "Retry-After": deadline}), nil, 0)
	if got.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %d, want 30", got.RetryAfter)
	}
	if got.Flagged() {
		t.Fatalf("unexpected violations %v", got.Violations)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := fixedClassifier()
	responses := []*http.Response{
		newResponse(200, map[string]string{"X-RateLimit-Remaining": "1"}),
		newResponse(429, map[string]string{"Retry-After": c.Now().Add(7 * time.Second).Format(http.TimeFormat)}),
		newResponse(500, nil),
	}
	for _, resp := range responses {
		first := c.Classify(resp, nil, time.Millisecond)
		second := c.Classify(resp, nil, time.Millisecond)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("classification changed between calls:\n%+v\n%+v", first, second)
		}
	}
}

func TestClassifyNonCanonicalHeaderKeys(t *testing.T) {
	resp := &http.Response{
		StatusCode: 429,
		Header: http.Header{
			"x-ratelimit-remaining": {"0"},
			"retry-after":           {"3"},
		},
	}
	got := fixedClassifier().Classify(resp, nil, 0)
	if got.Flagged() {
		t.Fatalf("lower-cased headers were not found: %v", got.Violations)
	}
	if got.RetryAfter != 3 {
		t.Fatalf("RetryAfter = %d, want 3", got.RetryAfter)
	}
}

func TestClassifyBodyPath(t *testing.T) {
	c := fixedClassifier()
	c.BodyPath = "data.remaining"
	resp := newResponse(200, map[string]string{"X-RateLimit-Remaining": "2"})

	ok := c.Classify(resp, []byte(`{"data":{"remaining":2}}`), 0)
	if ok.Flagged() {
		t.Fatalf("unexpected violations %v", ok.Violations)
	}

	missing := c.Classify(resp, []byte(`{"data":{}}`), 0)
	if !missing.Has(ViolationMissingBodyField) {
		t.Fatalf("expected %s, got %v", ViolationMissingBodyField, missing.Violations)
	}

	blocked := c.Classify(newResponse(429, map[string]string{"X-RateLimit-Remaining": "0", "Retry-After": "1"}), nil, 0)
	if blocked.Flagged() {
		t.Fatalf("body check must only apply to allowed responses, got %v", blocked.Violations)
	}
}

func TestClassifyError(t *testing.T) {
	boom := errors.New("connection refused")
	got := fixedClassifier().ClassifyError(boom, 5*time.Millisecond)
	if got.Kind != KindMalformed || !got.Has(ViolationTransport) {
		t.Fatalf("unexpected outcome %+v", got)
	}
	err := got.Error()
	if !errors.Is(err, boom) {
		t.Fatalf("outcome error should wrap transport error, got %v", err)
	}
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ViolationError, got %T", err)
	}
}

func TestClassifyEmptyRetryAfterIsMissing(t *testing.T) {
	c := fixedClassifier()
	resp := newResponse(429, map[string]string{"X-RateLimit-Remaining": "0"})
	resp.Header["Retry-After"] = []string{""}

	got := c.Classify(resp, nil, 0)
	if !got.Has(ViolationMissingRetryAfter) {
		t.Fatalf("violations = %v, want missing_retry_after", got.Violations)
	}
	if got.Headers.HasRetryAfter || got.RetryAfter != 0 {
		t.Fatalf("empty hint treated as present: %+v", got.Headers)
	}
}

func TestClassifyHTTPDateHintUsesResponseDate(t *testing.T) {
	served := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := served.Add(2 * time.Second)
	c := NewClassifier(DefaultHeaderNames())
	c.Now = func() time.Time { return clock }

	resp := newResponse(429, map[string]string{
		"X-RateLimit-Remaining": "0",
		"Date":                  served.Format(http.TimeFormat),
		"Retry-After":           served.Add(10 * time.Second).Format(http.TimeFormat),
	})

	first := c.Classify(resp, nil, 0)
	clock = clock.Add(5 * time.Second)
	second := c.Classify(resp, nil, 0)

	if first.RetryAfter != 10 {
		t.Fatalf("RetryAfter = %d, want 10", first.RetryAfter)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("classification changed as the clock moved:\n%+v\n%+v", first, second)
	}
}
