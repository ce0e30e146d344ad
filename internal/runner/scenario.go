package runner

import (
	"fmt"
	"strings"
	"time"
)

// Executor selects how a scenario schedules its iterations.
type Executor string

const (
	// ConstantArrivalRate starts iterations at a fixed rate regardless of how
	// long each one takes.
	ConstantArrivalRate Executor = "constant-arrival-rate"
	// PerVUIterations runs a fixed number of iterations on every worker.
	PerVUIterations Executor = "per-vu-iterations"
	// ConstantVUs keeps a fixed number of workers looping for a duration.
	ConstantVUs Executor = "constant-vus"
)

const (
	DefaultTimeUnit     = time.Second
	DefaultMaxDuration  = 10 * time.Minute
	DefaultGracefulStop = 30 * time.Second
)

// Scenario describes one independently scheduled workload.
type Scenario struct {
	Name     string
	Executor Executor

	// Arrival-rate parameters: Rate iterations per TimeUnit for Duration,
	// served by PreAllocatedWorkers up to MaxWorkers.
	Rate                int
	TimeUnit            time.Duration
	PreAllocatedWorkers int
	MaxWorkers          int

	// Worker-count parameters.
	Workers     int
	Iterations  int
	MaxDuration time.Duration

	Duration    time.Duration
	StartOffset time.Duration
	// GracefulStop bounds how long in-flight iterations may run after the
	// active window ends. Zero selects DefaultGracefulStop; negative disables it.
	GracefulStop time.Duration
}

// WithDefaults returns a copy of s with unset optional fields filled in.
func (s Scenario) WithDefaults() Scenario {
	s.Executor = Executor(strings.ToLower(strings.TrimSpace(string(s.Executor))))
	if s.TimeUnit <= 0 {
		s.TimeUnit = DefaultTimeUnit
	}
	if s.Executor == PerVUIterations && s.MaxDuration <= 0 {
		s.MaxDuration = DefaultMaxDuration
	}
	if s.Executor == ConstantArrivalRate && s.MaxWorkers == 0 {
		s.MaxWorkers = s.PreAllocatedWorkers
	}
	switch {
	case s.GracefulStop == 0:
		s.GracefulStop = DefaultGracefulStop
	case s.GracefulStop < 0:
		s.GracefulStop = 0
	}
	return s
}

// Window is the active period during which new iterations may start.
func (s Scenario) Window() time.Duration {
	if s.Executor == PerVUIterations {
		return s.MaxDuration
	}
	return s.Duration
}

// Issues lists every configuration problem with s after defaults are applied.
func (s Scenario) Issues() []string {
	s = s.WithDefaults()
	var issues []string
	if strings.TrimSpace(s.Name) == "" {
		issues = append(issues, "name is required")
	}
	if s.StartOffset < 0 {
		issues = append(issues, "start offset must be non-negative")
	}

	switch s.Executor {
	case ConstantArrivalRate:
		if s.Rate <= 0 {
			issues = append(issues, "rate must be greater than zero")
		}
		if s.Duration <= 0 {
			issues = append(issues, "duration must be greater than zero")
		}
		if s.PreAllocatedWorkers < 0 {
			issues = append(issues, "pre-allocated workers must be non-negative")
		}
		if s.MaxWorkers < 1 {
			issues = append(issues, "max workers must be at least 1")
		}
		if s.PreAllocatedWorkers > s.MaxWorkers {
			issues = append(issues, "pre-allocated workers cannot exceed max workers")
		}
	case PerVUIterations:
		if s.Workers <= 0 {
			issues = append(issues, "workers must be greater than zero")
		}
		if s.Iterations <= 0 {
			issues = append(issues, "iterations must be greater than zero")
		}
	case ConstantVUs:
		if s.Workers <= 0 {
			issues = append(issues, "workers must be greater than zero")
		}
		if s.Duration <= 0 {
			issues = append(issues, "duration must be greater than zero")
		}
	case "":
		issues = append(issues, "executor is required")
	default:
		issues = append(issues, fmt.Sprintf("unknown executor %q", s.Executor))
	}
	return issues
}

// Validate returns an error describing every issue reported by Issues.
func (s Scenario) Validate() error {
	issues := s.Issues()
	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("scenario %q: %s", s.Name, strings.Join(issues, "; "))
}
