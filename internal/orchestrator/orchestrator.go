package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/runner"
	"github.com/torosent/limitprobe/internal/threshold"
)

// Entry binds a scenario to the traffic function its workers run.
type Entry struct {
	Scenario runner.Scenario
	Traffic  runner.Requester
}

// Plan is the ordered set of scenarios for one run. Every entry starts at its
// StartOffset relative to the run start; offsets may overlap.
type Plan []Entry

// Renderer presents a finished report.
type Renderer interface {
	Render(Report) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Report) error

func (f RendererFunc) Render(r Report) error { return f(r) }

// Options configure an Orchestrator.
type Options struct {
	Target     string
	Collector  *metrics.Collector
	Thresholds []threshold.Threshold
	Renderers  []Renderer
	Logger     *zap.Logger
	// LimiterFactory is passed to every arrival-rate scenario; tests inject it.
	LimiterFactory func(rate.Limit) *rate.Limiter
}

// Report is the outcome of a run.
type Report struct {
	RunID       string             `json:"run_id" yaml:"run_id"`
	Target      string             `json:"target" yaml:"target"`
	Started     time.Time          `json:"started" yaml:"started"`
	Duration    time.Duration      `json:"-" yaml:"-"`
	DurationMs  float64            `json:"duration_ms" yaml:"duration_ms"`
	Interrupted bool               `json:"interrupted" yaml:"interrupted"`
	Stats       metrics.Stats      `json:"stats" yaml:"stats"`
	Scenarios   []runner.Result    `json:"scenarios" yaml:"scenarios"`
	Thresholds  []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Passed reports whether every threshold held.
func (r Report) Passed() bool {
	return threshold.AllPass(r.Thresholds)
}

// Orchestrator runs a Plan and produces a Report.
type Orchestrator struct {
	plan Plan
	opt  Options
	log  *zap.Logger
}

// New validates plan and returns an Orchestrator for it.
func New(plan Plan, opt Options) (*Orchestrator, error) {
	if len(plan) == 0 {
		return nil, errors.New("plan has no scenarios")
	}
	seen := make(map[string]bool, len(plan))
	var issues []string
	for i, e := range plan {
		name := e.Scenario.Name
		if err := e.Scenario.Validate(); err != nil {
			issues = append(issues, err.Error())
		}
		if e.Traffic == nil {
			issues = append(issues, fmt.Sprintf("scenario[%d] %q has no traffic function", i, name))
		}
		if name != "" && seen[name] {
			issues = append(issues, fmt.Sprintf("duplicate scenario name %q", name))
		}
		seen[name] = true
	}
	if len(issues) > 0 {
		return nil, fmt.Errorf("invalid plan: %s", strings.Join(issues, "; "))
	}

	if opt.Collector == nil {
		opt.Collector = metrics.NewCollector()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Orchestrator{plan: plan, opt: opt, log: opt.Logger}, nil
}

// Collector returns the collector shared by every scenario.
func (o *Orchestrator) Collector() *metrics.Collector {
	return o.opt.Collector
}

// Run starts every scenario at its offset, waits for all of them (grace
// periods included), evaluates thresholds and hands the report to each
// renderer. Cancelling ctx skips scenarios that have not started and stops
// running ones; the partial report is still produced. The returned error
// only reflects renderer failures.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	runID := ulid.Make().String()
	log := o.log.With(zap.String("run_id", runID))
	collector := o.opt.Collector

	collector.Start()
	start := collector.StartedAt()
	log.Info("run started", zap.String("target", o.opt.Target), zap.Int("scenarios", len(o.plan)))

	results := make([]runner.Result, len(o.plan))
	var g errgroup.Group
	for i, entry := range o.plan {
		g.Go(func() error {
			results[i] = o.runEntry(ctx, log, entry)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	stats := collector.Stats(elapsed)
	report := Report{
		RunID:       runID,
		Target:      o.opt.Target,
		Started:     start,
		Duration:    elapsed,
		DurationMs:  float64(elapsed) / float64(time.Millisecond),
		Interrupted: ctx.Err() != nil,
		Stats:       stats,
		Scenarios:   results,
		Thresholds:  threshold.NewEvaluator(o.opt.Thresholds).Evaluate(stats),
	}

	log.Info("run finished",
		zap.Duration("elapsed", elapsed),
		zap.Int64("requests", stats.Total),
		zap.Int64("allowed", stats.Allowed),
		zap.Int64("blocked", stats.Blocked),
		zap.Int64("malformed", stats.Malformed),
		zap.Bool("passed", report.Passed()),
		zap.Bool("interrupted", report.Interrupted),
	)

	var errs []error
	for _, r := range o.opt.Renderers {
		if r == nil {
			continue
		}
		if err := r.Render(report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (o *Orchestrator) runEntry(ctx context.Context, log *zap.Logger, e Entry) runner.Result {
	sc := e.Scenario
	if offset := sc.StartOffset; offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Info("scenario skipped", zap.String("scenario", sc.Name), zap.Error(ctx.Err()))
			return runner.Result{Scenario: sc.Name, Executor: sc.WithDefaults().Executor}
		}
	}
	if ctx.Err() != nil {
		return runner.Result{Scenario: sc.Name, Executor: sc.WithDefaults().Executor}
	}

	collector := o.opt.Collector
	res := runner.Execute(ctx, sc, e.Traffic, runner.Options{
		Logger:         log,
		LimiterFactory: o.opt.LimiterFactory,
		OnDropped:      func() { collector.RecordDropped(sc.Name) },
	})
	// Requests still in flight once the scenario gave up on them never get
	// classified.
	if n := collector.AbandonPending(sc.Name); n > 0 {
		log.Warn("requests still in flight after graceful stop",
			zap.String("scenario", sc.Name),
			zap.Int("abandoned", n),
		)
	}
	return res
}
