package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrGraceExpired is the cancellation cause delivered to iterations that were
// still running when their scenario's graceful stop period ran out.
var ErrGraceExpired = errors.New("graceful stop period expired")

// abandonDrain bounds how long Run waits for cancelled iterations to unwind.
const abandonDrain = time.Second

// Result captures execution summary.
type Result struct {
	Scenario  string        `json:"scenario" yaml:"scenario"`
	Executor  Executor      `json:"executor" yaml:"executor"`
	Issued    int64         `json:"issued" yaml:"issued"`
	Completed int64         `json:"completed" yaml:"completed"`
	Errors    int64         `json:"errors" yaml:"errors"`
	Dropped   int64         `json:"dropped" yaml:"dropped"`
	// Cancelled counts iterations cut short by grace expiry or run
	// cancellation, including any still running when Run gave up on them.
	// Requests are counted separately by the metrics collector.
	Cancelled int64         `json:"cancelled" yaml:"cancelled"`
	Workers   int           `json:"workers" yaml:"workers"`
	Duration  time.Duration `json:"-" yaml:"-"`
}

// Runner executes one scenario.
type Runner struct {
	opt Options
	log *zap.Logger
}

func New(opt Options) *Runner {
	opt.normalize()
	log := opt.Logger.With(
		zap.String("scenario", opt.Scenario.Name),
		zap.String("executor", string(opt.Scenario.Executor)),
	)
	return &Runner{opt: opt, log: log}
}

// Execute runs sc with req and returns once the scenario and its graceful
// stop period are over.
func Execute(ctx context.Context, sc Scenario, req Requester, opt Options) Result {
	opt.Scenario = sc
	opt.Requester = req
	return New(opt).Run(ctx)
}

// Scenario returns the normalized scenario the runner executes.
func (r *Runner) Scenario() Scenario {
	return r.opt.Scenario
}

func (r *Runner) Run(ctx context.Context) Result {
	sc := r.opt.Scenario
	start := time.Now()
	st := &tally{}

	iterCtx, cancelIter := context.WithCancelCause(withScenario(ctx, sc.Name))
	defer cancelIter(nil)

	stopCtx := iterCtx
	if window := sc.Window(); window > 0 {
		var cancelStop context.CancelFunc
		stopCtx, cancelStop = context.WithTimeout(iterCtx, window)
		defer cancelStop()
	}

	r.log.Info("scenario started", zap.Duration("window", sc.Window()))

	var workers atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		workers.Store(int64(r.execute(stopCtx, iterCtx, st)))
	}()

	select {
	case <-done:
	case <-stopCtx.Done():
		r.awaitGrace(done, st, cancelIter)
	}

	res := st.result()
	res.Scenario = sc.Name
	res.Executor = sc.Executor
	res.Workers = int(workers.Load())
	res.Duration = time.Since(start)

	r.log.Info("scenario finished",
		zap.Int64("issued", res.Issued),
		zap.Int64("completed", res.Completed),
		zap.Int64("errors", res.Errors),
		zap.Int64("dropped", res.Dropped),
		zap.Int64("cancelled", res.Cancelled),
		zap.Duration("elapsed", res.Duration),
	)
	return res
}

// awaitGrace gives in-flight iterations GracefulStop to finish. When it runs
// out they are cancelled with ErrGraceExpired and Run stops waiting on them
// after abandonDrain; whatever is still running by then counts as cancelled.
func (r *Runner) awaitGrace(done <-chan struct{}, st *tally, cancel context.CancelCauseFunc) {
	grace := r.opt.Scenario.GracefulStop
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
		}
	} else {
		select {
		case <-done:
			return
		default:
		}
	}

	r.log.Warn("graceful stop expired, abandoning in-flight iterations",
		zap.Int64("in_flight", st.inFlight()),
		zap.Duration("graceful_stop", grace),
	)
	cancel(ErrGraceExpired)

	drain := time.NewTimer(abandonDrain)
	defer drain.Stop()
	select {
	case <-done:
	case <-drain.C:
	}
}

func (r *Runner) execute(stopCtx, iterCtx context.Context, st *tally) int {
	switch r.opt.Scenario.Executor {
	case ConstantArrivalRate:
		return r.runArrivalRate(stopCtx, iterCtx, st)
	case PerVUIterations:
		return r.runWorkers(stopCtx, iterCtx, st, r.opt.Scenario.Iterations)
	case ConstantVUs:
		return r.runWorkers(stopCtx, iterCtx, st, 0)
	default:
		r.log.Error("unknown executor")
		return 0
	}
}

// runArrivalRate issues iterations at a fixed rate. The issue rate does not
// depend on how fast iterations complete: a tick that finds every worker
// busy at MaxWorkers is dropped.
func (r *Runner) runArrivalRate(stopCtx, iterCtx context.Context, st *tally) int {
	sc := r.opt.Scenario
	pacer := newArrivalPacer(sc, r.opt.LimiterFactory)
	pool := newWorkerPool(iterCtx, sc.MaxWorkers, func(ctx context.Context) {
		r.iterate(ctx, st)
	})
	for i := 0; i < sc.PreAllocatedWorkers; i++ {
		pool.start(false)
	}

	for {
		if err := pacer.Wait(stopCtx); err != nil {
			break
		}
		if pool.dispatch() {
			st.issued.Add(1)
			continue
		}
		st.dropped.Add(1)
		r.log.Warn("no free worker, dropping iteration", zap.Int("max_workers", sc.MaxWorkers))
		if r.opt.OnDropped != nil {
			r.opt.OnDropped()
		}
	}

	pool.shutdown()
	return pool.size()
}

// runWorkers starts Workers goroutines. Each runs iterations sequentially
// until it has done limit of them (0 means no limit) or stopCtx ends.
func (r *Runner) runWorkers(stopCtx, iterCtx context.Context, st *tally, limit int) int {
	n := r.opt.Scenario.Workers
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			ctx := withWorkerID(iterCtx, id)
			for iter := 0; limit == 0 || iter < limit; iter++ {
				if stopCtx.Err() != nil {
					return
				}
				st.issued.Add(1)
				r.iterate(ctx, st)
			}
		}(i)
	}
	wg.Wait()
	return n
}

func (r *Runner) iterate(ctx context.Context, st *tally) {
	st.begin()
	err := r.opt.Requester.Do(ctx)
	// An iteration that ends after teardown began (grace expiry or run
	// cancellation) is cancelled, whether or not its requests were recorded.
	st.end(err, ctx.Err() != nil)
}

// tally holds a scenario's counters. The in-flight/finished pair shares a
// mutex so cancelled iterations are counted exactly once.
type tally struct {
	issued  atomic.Int64
	dropped atomic.Int64

	mu        sync.Mutex
	running   int64
	completed int64
	errors    int64
	cancelled int64
}

func (t *tally) begin() {
	t.mu.Lock()
	t.running++
	t.mu.Unlock()
}

func (t *tally) end(err error, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running--
	switch {
	case cancelled:
		t.cancelled++
	case err != nil:
		t.completed++
		t.errors++
	default:
		t.completed++
	}
}

func (t *tally) inFlight() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *tally) result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Result{
		Issued:    t.issued.Load(),
		Completed: t.completed,
		Errors:    t.errors,
		Dropped:   t.dropped.Load(),
		Cancelled: t.cancelled + t.running,
	}
}
