package traffic

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
)

const (
	DefaultMaxWait   = 3 * time.Second
	DefaultBatchSize = 3
)

// BoundaryProber races the limiter's window reset. Each iteration sends a
// probe, sleeps for the probe's retry hint (capped at MaxWait) and then
// releases BatchSize concurrent requests together.
type BoundaryProber struct {
	Client    Firer
	MaxWait   time.Duration
	BatchSize int
	// Collector, when set, counts batches and observed state transitions.
	Collector *metrics.Collector
	Logger    *zap.Logger
	Now       func() time.Time
}

// BoundaryResult is the classified probe and batch of one iteration.
type BoundaryResult struct {
	Probe contract.Outcome
	Wait  time.Duration
	Batch []contract.Outcome
	// Abandoned counts batch requests torn down before classification.
	Abandoned    int
	Transitioned bool
}

func (p *BoundaryProber) Do(ctx context.Context) error {
	res, err := p.Probe(ctx)
	if err != nil {
		return err
	}
	errs := []error{res.Probe.Error()}
	for _, out := range res.Batch {
		errs = append(errs, out.Error())
	}
	return errors.Join(errs...)
}

// Probe runs one probe/sleep/batch cycle. It returns an error only when ctx
// ends before the batch is sent.
func (p *BoundaryProber) Probe(ctx context.Context) (BoundaryResult, error) {
	var res BoundaryResult
	probe, ok := p.Client.Fire(ctx)
	if !ok {
		return res, context.Cause(ctx)
	}
	res.Probe = probe

	res.Wait = p.waitFor(probe)
	if res.Wait > 0 && !sleep(ctx, res.Wait) {
		return res, context.Cause(ctx)
	}

	res.Batch, res.Abandoned = p.fireBatch(ctx)
	res.Transitioned = transitioned(probe, res.Batch)

	if p.Collector != nil {
		p.Collector.RecordBoundaryBatch(res.Transitioned)
	}
	p.logger().Debug("boundary batch",
		zap.String("probe", probe.Kind.String()),
		zap.Duration("wait", res.Wait),
		zap.Strings("batch", kinds(res.Batch)),
		zap.Int("abandoned", res.Abandoned),
		zap.Bool("transitioned", res.Transitioned),
	)
	return res, nil
}

func (p *BoundaryProber) waitFor(probe contract.Outcome) time.Duration {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	hint := time.Duration(contract.ParseRetryAfter(probe.Headers.RetryAfter, now())) * time.Second
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return min(hint, maxWait)
}

// fireBatch sends the batch concurrently. Every request waits on a shared
// barrier so none starts before all are ready.
func (p *BoundaryProber) fireBatch(ctx context.Context) ([]contract.Outcome, int) {
	n := p.BatchSize
	if n <= 0 {
		n = DefaultBatchSize
	}

	outs := make([]contract.Outcome, n)
	ok := make([]bool, n)
	release := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-release
			outs[i], ok[i] = p.Client.Fire(ctx)
			return nil
		})
	}
	close(release)
	_ = g.Wait()

	batch := make([]contract.Outcome, 0, n)
	abandoned := 0
	for i := range outs {
		if !ok[i] {
			abandoned++
			continue
		}
		batch = append(batch, outs[i])
	}
	return batch, abandoned
}

func (p *BoundaryProber) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// transitioned reports whether the batch straddled a window reset: it saw
// both allowed and blocked responses, or a blocked probe was followed by an
// allowed response.
func transitioned(probe contract.Outcome, batch []contract.Outcome) bool {
	var allowed, blocked bool
	for _, out := range batch {
		switch out.Kind {
		case contract.KindAllowed:
			allowed = true
		case contract.KindBlocked:
			blocked = true
		}
	}
	if allowed && blocked {
		return true
	}
	return probe.Kind == contract.KindBlocked && allowed
}

func kinds(batch []contract.Outcome) []string {
	out := make([]string, len(batch))
	for i, o := range batch {
		out[i] = o.Kind.String()
	}
	return out
}
