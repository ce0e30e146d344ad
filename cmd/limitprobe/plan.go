package main

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/limitprobe/internal/config"
	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/orchestrator"
	"github.com/torosent/limitprobe/internal/runner"
	"github.com/torosent/limitprobe/internal/traffic"
)

// planDeps are the shared collaborators every scenario's traffic uses.
type planDeps struct {
	collector  *metrics.Collector
	httpClient *http.Client
	tracer     trace.Tracer
	propagate  bool
	log        *zap.Logger
}

// buildPlan turns the configured scenarios into orchestrator entries. All
// scenarios share one HTTP client and one collector; each gets its own
// traffic client so per-worker identities are scoped by scenario name.
func buildPlan(cfg *config.Config, deps planDeps) (orchestrator.Plan, error) {
	plan := make(orchestrator.Plan, 0, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		client, err := newTrafficClient(cfg, sc, deps)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		fn, err := trafficFor(sc, client, deps)
		if err != nil {
			return nil, err
		}
		plan = append(plan, orchestrator.Entry{
			Scenario: sc.Scenario(),
			Traffic:  runner.WithLogging(fn, runner.ZapFailureLogger{Logger: deps.log.With(zap.String("scenario", sc.Name))}),
		})
	}
	return plan, nil
}

func newTrafficClient(cfg *config.Config, sc config.ScenarioConfig, deps planDeps) (*traffic.Client, error) {
	opt := traffic.Options{
		Target:  cfg.TargetURL,
		Headers: makeHeaders(cfg.Headers),
		Timeout: cfg.Timeout,
		Names: contract.HeaderNames{
			Remaining:  cfg.RateLimitHeaders.Remaining,
			Limit:      cfg.RateLimitHeaders.Limit,
			Reset:      cfg.RateLimitHeaders.Reset,
			RetryAfter: cfg.RateLimitHeaders.RetryAfter,
		},
		BodyPath:   cfg.Expect.JSONPath,
		Collector:  deps.collector,
		Tracer:     deps.tracer,
		Propagate:  deps.propagate,
		Logger:     deps.log,
		HTTPClient: deps.httpClient,
	}
	if sc.ClientIdentity {
		opt.ClientHeader = cfg.ClientHeader
		opt.ClientPrefix = sc.Name
	}
	return traffic.NewClient(opt)
}

func trafficFor(sc config.ScenarioConfig, client *traffic.Client, deps planDeps) (runner.Requester, error) {
	switch sc.Traffic {
	case config.TrafficSustained:
		return &traffic.Sustained{Client: client, Pacing: sc.Pacing}, nil
	case config.TrafficRequest:
		return client, nil
	case config.TrafficBoundary:
		return &traffic.BoundaryProber{
			Client:    client,
			MaxWait:   sc.MaxWait,
			BatchSize: sc.BatchSize,
			Collector: deps.collector,
			Logger:    deps.log,
		}, nil
	default:
		return nil, fmt.Errorf("scenario %q: unsupported traffic %q", sc.Name, sc.Traffic)
	}
}

func makeHeaders(values map[string]string) http.Header {
	headers := http.Header{}
	for k, v := range values {
		headers.Set(k, v)
	}
	return headers
}
