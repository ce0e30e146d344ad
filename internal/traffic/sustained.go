package traffic

import (
	"context"
	"time"

	"github.com/torosent/limitprobe/internal/contract"
)

// DefaultPacing is the pause after each sustained-traffic request.
const DefaultPacing = 100 * time.Millisecond

// Firer issues one classified request. *Client is the production Firer.
type Firer interface {
	Fire(ctx context.Context) (contract.Outcome, bool)
}

// Sustained sends one request and then waits Pacing before the iteration
// ends, keeping a steady per-worker cadence.
type Sustained struct {
	Client Firer
	Pacing time.Duration
}

func (s *Sustained) Do(ctx context.Context) error {
	out, ok := s.Client.Fire(ctx)
	if !ok {
		return context.Cause(ctx)
	}
	pacing := s.Pacing
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	sleep(ctx, pacing)
	return out.Error()
}

// sleep waits for d or until ctx ends, reporting whether the full duration
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
