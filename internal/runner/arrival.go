package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// arrivalPacer emits evenly spaced ticks at rate iterations per time unit.
type arrivalPacer struct {
	limiter *rate.Limiter
}

func newArrivalPacer(sc Scenario, factory func(rate.Limit) *rate.Limiter) *arrivalPacer {
	unit := sc.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	limit := rate.Limit(float64(sc.Rate) / unit.Seconds())
	return &arrivalPacer{limiter: factory(limit)}
}

// Wait blocks until the next tick or until ctx ends.
func (p *arrivalPacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// workerPool hands arrival ticks to idle workers and grows up to max.
// Only the dispatching goroutine calls start and dispatch.
type workerPool struct {
	ctx     context.Context
	max     int
	run     func(ctx context.Context)
	idle    chan *poolWorker
	workers []*poolWorker
	done    chan struct{}
	active  int
}

type poolWorker struct {
	id   int
	work chan struct{}
}

func newWorkerPool(ctx context.Context, max int, run func(ctx context.Context)) *workerPool {
	if max < 1 {
		max = 1
	}
	return &workerPool{
		ctx:  ctx,
		max:  max,
		run:  run,
		idle: make(chan *poolWorker, max),
		done: make(chan struct{}, max),
	}
}

// start launches a worker. With job set the worker begins an iteration
// immediately, otherwise it parks as idle. It reports false at capacity.
func (p *workerPool) start(job bool) bool {
	if len(p.workers) >= p.max {
		return false
	}
	w := &poolWorker{id: len(p.workers), work: make(chan struct{}, 1)}
	p.workers = append(p.workers, w)
	if job {
		w.work <- struct{}{}
	} else {
		p.idle <- w
	}
	p.active++
	go p.loop(w)
	return true
}

func (p *workerPool) loop(w *poolWorker) {
	defer func() { p.done <- struct{}{} }()
	ctx := withWorkerID(p.ctx, w.id)
	for range w.work {
		p.run(ctx)
		p.idle <- w
	}
}

// dispatch hands one iteration to a worker. It reports false when every
// worker is busy and the pool is at capacity.
func (p *workerPool) dispatch() bool {
	select {
	case w := <-p.idle:
		w.work <- struct{}{}
		return true
	default:
	}
	return p.start(true)
}

// size reports how many workers have been started.
func (p *workerPool) size() int {
	return len(p.workers)
}

// shutdown stops accepting work and waits for every worker to finish its
// current iteration.
func (p *workerPool) shutdown() {
	for _, w := range p.workers {
		close(w.work)
	}
	for ; p.active > 0; p.active-- {
		<-p.done
	}
}
