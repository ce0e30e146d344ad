package output

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/torosent/limitprobe/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+progressLine(p.collector.Stats(time.Since(p.collector.StartedAt()))))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.Stats) string {
	line := fmt.Sprintf("Requests: %d | Allowed: %d | Blocked: %d | Malformed: %d | RPS: %.1f",
		stats.Total, stats.Allowed, stats.Blocked, stats.Malformed, stats.RequestsPerSec)
	if stats.Dropped > 0 {
		line += fmt.Sprintf(" | Dropped: %d", stats.Dropped)
	}
	if name, sc, ok := busiestScenario(stats); ok && stats.Total > 0 {
		share := (float64(sc.Total) / float64(stats.Total)) * 100
		line += fmt.Sprintf(" | Busiest: %s (%.0f%%, P95 %.1fms)", name, share, sc.P95LatencyMs)
	}
	return line
}

func busiestScenario(stats metrics.Stats) (string, metrics.ScenarioStats, bool) {
	if len(stats.Scenarios) == 0 {
		return "", metrics.ScenarioStats{}, false
	}
	names := make([]string, 0, len(stats.Scenarios))
	for name := range stats.Scenarios {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := stats.Scenarios[names[i]], stats.Scenarios[names[j]]
		if a.Total == b.Total {
			return names[i] < names[j]
		}
		return a.Total > b.Total
	})
	name := names[0]
	return name, stats.Scenarios[name], true
}
