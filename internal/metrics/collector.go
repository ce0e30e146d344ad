package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/limitprobe/internal/contract"
)

// Observer receives every event recorded by a Collector. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveOutcome(scenario string, o contract.Outcome)
	ObserveDropped(scenario string)
	ObserveAbandoned(scenario string)
}

// Collector is the run-wide accumulator. Every classified outcome increments
// exactly one of allowed, blocked or malformed; all mutation goes through the
// collector's mutex.
type Collector struct {
	mu         sync.Mutex
	overall    *latencyTracker
	byKind     map[contract.Kind]*latencyTracker
	counts     counters
	violations map[contract.Violation]int64
	transport  map[string]int64
	scenarios  map[string]*scenarioState
	boundary   BoundaryStats
	observers  []Observer
	start      time.Time

	pending map[uint64]string
	nextID  uint64
}

type counters struct {
	allowed   int64
	blocked   int64
	malformed int64
	flagged   int64
	dropped   int64
	abandoned int64
}

func (c *counters) add(o contract.Outcome) {
	switch o.Kind {
	case contract.KindAllowed:
		c.allowed++
	case contract.KindBlocked:
		c.blocked++
	default:
		c.malformed++
	}
	if o.Flagged() {
		c.flagged++
	}
}

type scenarioState struct {
	counts   counters
	statuses map[string]int64
	latency  *latencyTracker
}

// NewCollector returns an empty Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{
		overall: newLatencyTracker(),
		byKind: map[contract.Kind]*latencyTracker{
			contract.KindAllowed:   newLatencyTracker(),
			contract.KindBlocked:   newLatencyTracker(),
			contract.KindMalformed: newLatencyTracker(),
		},
		violations: make(map[contract.Violation]int64),
		transport:  make(map[string]int64),
		scenarios:  make(map[string]*scenarioState),
		start:      time.Now(),
		pending:    make(map[uint64]string),
	}
}

// Start marks the beginning of the run for rate calculations.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// StartedAt returns the time recorded by Start or NewCollector.
func (c *Collector) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// AddObserver registers o for all subsequent events.
func (c *Collector) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Record accumulates one classified outcome for scenario.
func (c *Collector) Record(scenario string, o contract.Outcome) {
	c.mu.Lock()
	c.counts.add(o)
	c.overall.record(o.Latency)
	c.byKind[normalizeKind(o.Kind)].record(o.Latency)
	for _, v := range o.Violations {
		c.violations[v]++
	}
	if o.Err != nil {
		c.transport[errorLabel(o.Err)]++
	}

	sc := c.scenarioLocked(scenario)
	sc.counts.add(o)
	sc.statuses[statusLabel(o)]++
	sc.latency.record(o.Latency)
	observers := c.observers
	c.mu.Unlock()

	for _, obs := range observers {
		obs.ObserveOutcome(scenario, o)
	}
}

// RecordDropped counts an arrival-rate invocation that found no free worker.
func (c *Collector) RecordDropped(scenario string) {
	c.mu.Lock()
	c.counts.dropped++
	c.scenarioLocked(scenario).counts.dropped++
	observers := c.observers
	c.mu.Unlock()

	for _, obs := range observers {
		obs.ObserveDropped(scenario)
	}
}

// RecordAbandoned counts a request that was still in flight when its scenario
// was torn down. It is never counted as allowed, blocked or malformed.
func (c *Collector) RecordAbandoned(scenario string) {
	c.mu.Lock()
	c.counts.abandoned++
	c.scenarioLocked(scenario).counts.abandoned++
	observers := c.observers
	c.mu.Unlock()

	for _, obs := range observers {
		obs.ObserveAbandoned(scenario)
	}
}

// Pending is a request that has been issued but not yet recorded. It settles
// exactly once: through Record, Abandon or the collector's AbandonPending,
// whichever comes first.
type Pending struct {
	c  *Collector
	id uint64
}

// Begin registers an in-flight request for scenario.
func (c *Collector) Begin(scenario string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.pending[c.nextID] = scenario
	return &Pending{c: c, id: c.nextID}
}

func (p *Pending) settle() (string, bool) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	scenario, ok := p.c.pending[p.id]
	delete(p.c.pending, p.id)
	return scenario, ok
}

// Record records o unless the request was already settled. It reports whether
// the outcome was counted.
func (p *Pending) Record(o contract.Outcome) bool {
	scenario, ok := p.settle()
	if ok {
		p.c.Record(scenario, o)
	}
	return ok
}

// Abandon records the request as abandoned unless it was already settled.
func (p *Pending) Abandon() bool {
	scenario, ok := p.settle()
	if ok {
		p.c.RecordAbandoned(scenario)
	}
	return ok
}

// AbandonPending settles every in-flight request of scenario as abandoned and
// returns how many there were. Requests that finish later are not counted.
func (c *Collector) AbandonPending(scenario string) int {
	c.mu.Lock()
	n := 0
	for id, name := range c.pending {
		if name == scenario {
			delete(c.pending, id)
			n++
		}
	}
	c.mu.Unlock()

	for i := 0; i < n; i++ {
		c.RecordAbandoned(scenario)
	}
	return n
}

// RecordBoundaryBatch counts one window-boundary race and whether it observed
// a state transition (the batch saw both allowed and blocked responses, or a
// blocked probe was followed by an allowed batch response).
func (c *Collector) RecordBoundaryBatch(transitioned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundary.Batches++
	if transitioned {
		c.boundary.Transitions++
	}
}

func (c *Collector) scenarioLocked(name string) *scenarioState {
	sc, ok := c.scenarios[name]
	if !ok {
		sc = &scenarioState{
			statuses: make(map[string]int64),
			latency:  newLatencyTracker(),
		}
		c.scenarios[name] = sc
	}
	return sc
}

// Stats computes a read-only snapshot of everything recorded so far.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.counts.allowed + c.counts.blocked + c.counts.malformed
	stats := Stats{
		Total:            total,
		Allowed:          c.counts.allowed,
		Blocked:          c.counts.blocked,
		Malformed:        c.counts.malformed,
		Flagged:          c.counts.flagged,
		Dropped:          c.counts.dropped,
		Abandoned:        c.counts.abandoned,
		Latency:          c.overall.stats(),
		AllowedLatency:   c.byKind[contract.KindAllowed].stats(),
		BlockedLatency:   c.byKind[contract.KindBlocked].stats(),
		MalformedLatency: c.byKind[contract.KindMalformed].stats(),
		Boundary:         c.boundary,
		Duration:         elapsed,
		DurationMs:       toMs(elapsed),
	}
	if elapsed > 0 && total > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.violations) > 0 {
		stats.Violations = make(map[string]int64, len(c.violations))
		for k, v := range c.violations {
			stats.Violations[string(k)] = v
		}
	}
	if len(c.transport) > 0 {
		stats.TransportErrors = make(map[string]int64, len(c.transport))
		for k, v := range c.transport {
			stats.TransportErrors[k] = v
		}
	}

	if len(c.scenarios) > 0 {
		stats.Scenarios = make(map[string]ScenarioStats, len(c.scenarios))
		stats.StatusCodes = make(map[string]map[string]int, len(c.scenarios))
		for name, sc := range c.scenarios {
			scTotal := sc.counts.allowed + sc.counts.blocked + sc.counts.malformed
			lat := sc.latency.stats()
			stats.Scenarios[name] = ScenarioStats{
				Total:        scTotal,
				Allowed:      sc.counts.allowed,
				Blocked:      sc.counts.blocked,
				Malformed:    sc.counts.malformed,
				Flagged:      sc.counts.flagged,
				Dropped:      sc.counts.dropped,
				Abandoned:    sc.counts.abandoned,
				P95Latency:   lat.P95,
				P95LatencyMs: lat.P95Ms,
			}
			if len(sc.statuses) > 0 {
				codes := make(map[string]int, len(sc.statuses))
				for code, n := range sc.statuses {
					codes[code] = int(n)
				}
				stats.StatusCodes[name] = codes
			}
		}
	}

	return stats
}

func normalizeKind(k contract.Kind) contract.Kind {
	switch k {
	case contract.KindAllowed, contract.KindBlocked:
		return k
	default:
		return contract.KindMalformed
	}
}

func statusLabel(o contract.Outcome) string {
	if o.StatusCode == 0 {
		return "transport"
	}
	return strconv.Itoa(o.StatusCode)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Context deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "Context canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("Network %s error", opErr.Op)
	}
	return FriendlyErrorName(fmt.Sprintf("%T", err))
}

// latencyTracker keeps an HdrHistogram in microseconds plus exact min/max/sum.
type latencyTracker struct {
	hist  *hdrhistogram.Histogram
	count int64
	min   time.Duration
	max   time.Duration
	sum   time.Duration
}

func newLatencyTracker() *latencyTracker {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &latencyTracker{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

func (t *latencyTracker) record(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	us := latency.Microseconds()
	if us < t.hist.LowestTrackableValue() {
		us = t.hist.LowestTrackableValue()
	}
	if us > t.hist.HighestTrackableValue() {
		us = t.hist.HighestTrackableValue()
	}
	_ = t.hist.RecordValue(us)

	t.count++
	t.sum += latency
	if t.count == 1 || latency < t.min {
		t.min = latency
	}
	if latency > t.max {
		t.max = latency
	}
}

func (t *latencyTracker) stats() LatencyStats {
	var s LatencyStats
	if t.count == 0 {
		return s
	}
	s.Count = t.count
	s.Min = t.min
	s.Max = t.max
	s.Mean = time.Duration(int64(t.sum) / t.count)
	s.P50 = t.quantile(50)
	s.P90 = t.quantile(90)
	s.P95 = t.quantile(95)
	s.P99 = t.quantile(99)

	s.MinMs = toMs(s.Min)
	s.MaxMs = toMs(s.Max)
	s.MeanMs = toMs(s.Mean)
	s.P50Ms = toMs(s.P50)
	s.P90Ms = toMs(s.P90)
	s.P95Ms = toMs(s.P95)
	s.P99Ms = toMs(s.P99)
	return s
}

func (t *latencyTracker) quantile(q float64) time.Duration {
	return time.Duration(t.hist.ValueAtQuantile(q)) * time.Microsecond
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
