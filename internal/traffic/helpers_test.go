package traffic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/traffic"
)

// fixedWindow allows limit requests and blocks everything after.
type fixedWindow struct {
	mu            sync.Mutex
	limit         int
	count         int
	body          string
	omitRetry     bool
	omitRemaining bool
}

func (f *fixedWindow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.count++
	n := f.count
	f.mu.Unlock()

	remaining := f.limit - n
	if remaining < 0 {
		remaining = 0
	}
	if !f.omitRemaining {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(f.limit))
	if n > f.limit {
		if !f.omitRetry {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(f.body))
}

func newTestClient(t *testing.T, target string, mutate func(*traffic.Options)) (*traffic.Client, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector()
	opt := traffic.Options{
		Target:    target,
		Collector: collector,
		Timeout:   2 * time.Second,
	}
	if mutate != nil {
		mutate(&opt)
	}
	c, err := traffic.NewClient(opt)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, collector
}

func newServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// scriptedFirer returns outcomes from script and records when each call began.
type scriptedFirer struct {
	mu     sync.Mutex
	calls  []time.Time
	script func(n int) (contract.Outcome, bool)
}

func (s *scriptedFirer) Fire(ctx context.Context) (contract.Outcome, bool) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, time.Now())
	s.mu.Unlock()
	return s.script(n)
}

func (s *scriptedFirer) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

func allowed() contract.Outcome {
	return contract.Outcome{
		Kind:       contract.KindAllowed,
		StatusCode: http.StatusOK,
		Headers:    contract.Headers{HasRemaining: true},
	}
}

func blocked(retryAfter string) contract.Outcome {
	return contract.Outcome{
		Kind:       contract.KindBlocked,
		StatusCode: http.StatusTooManyRequests,
		Headers:    contract.Headers{HasRemaining: true, HasRetryAfter: true, RetryAfter: retryAfter},
	}
}
