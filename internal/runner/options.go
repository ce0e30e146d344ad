package runner

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Requester abstracts executing a single iteration of a traffic function.
// Implementations should return an error for failed or flagged requests.
type Requester interface {
	Do(ctx context.Context) error
}

// RequesterFunc adapts a plain function to Requester.
type RequesterFunc func(ctx context.Context) error

func (f RequesterFunc) Do(ctx context.Context) error { return f(ctx) }

// Options configure the Runner.
type Options struct {
	Scenario  Scenario
	Requester Requester // iteration executor (required)
	// OnDropped is called for every arrival-rate tick that found no free worker.
	OnDropped      func()
	Logger         *zap.Logger
	LimiterFactory func(limit rate.Limit) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	o.Scenario = o.Scenario.WithDefaults()
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Requester == nil {
		o.Requester = RequesterFunc(func(context.Context) error { return nil })
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(limit rate.Limit) *rate.Limiter {
			// Burst 1 keeps ticks evenly spaced instead of front-loading.
			return rate.NewLimiter(limit, 1)
		}
	}
}
