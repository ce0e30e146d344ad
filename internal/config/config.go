package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/limitprobe/internal/runner"
)

// TrafficKind selects the traffic function a scenario runs on every iteration.
type TrafficKind string

const (
	// TrafficSustained issues one request followed by the pacing delay.
	TrafficSustained TrafficKind = "sustained"
	// TrafficRequest issues a single request with no pacing.
	TrafficRequest TrafficKind = "request"
	// TrafficBoundary probes, waits for the retry hint and races a batch.
	TrafficBoundary TrafficKind = "boundary"
)

const (
	DefaultClientHeader = "X-Client-ID"
	DefaultTimeout      = 30 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

type Config struct {
	TargetURL        string            `mapstructure:"target"`
	Headers          map[string]string `mapstructure:"headers"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	ClientHeader     string            `mapstructure:"client_header"`
	RateLimitHeaders HeaderConfig      `mapstructure:"rate_limit_headers"`
	Expect           ExpectConfig      `mapstructure:"expect"`
	Scenarios        []ScenarioConfig  `mapstructure:"scenarios"`
	Thresholds       []string          `mapstructure:"thresholds"`
	SkipPreflight    bool              `mapstructure:"skip_preflight"`
	PreflightTimeout time.Duration     `mapstructure:"preflight_timeout"`
	JSONOutput       bool              `mapstructure:"json_output"`
	YAMLOutput       bool              `mapstructure:"yaml_output"`
	ReportFile       string            `mapstructure:"report_file"`
	Progress         bool              `mapstructure:"progress"`
	MetricsAddr      string            `mapstructure:"metrics_addr"`
	LogLevel         string            `mapstructure:"log_level"`
	LogFormat        string            `mapstructure:"log_format"`
	Tracing          TracingConfig     `mapstructure:"tracing"`
	ConfigFile       string            `mapstructure:"-"`
}

// HeaderConfig overrides the rate-limit header names read from responses.
// Empty fields fall back to the X-RateLimit-* / Retry-After defaults.
type HeaderConfig struct {
	Remaining  string `mapstructure:"remaining"`
	Limit      string `mapstructure:"limit"`
	Reset      string `mapstructure:"reset"`
	RetryAfter string `mapstructure:"retry_after"`
}

// ExpectConfig holds optional response body expectations.
type ExpectConfig struct {
	// JSONPath must exist in every allowed response body when set.
	JSONPath string `mapstructure:"json_path"`
}

// ScenarioConfig is the file representation of one scenario.
type ScenarioConfig struct {
	Name                string        `mapstructure:"name"`
	Executor            string        `mapstructure:"executor"`
	Traffic             TrafficKind   `mapstructure:"traffic"`
	Rate                int           `mapstructure:"rate"`
	TimeUnit            time.Duration `mapstructure:"time_unit"`
	PreAllocatedWorkers int           `mapstructure:"pre_allocated_workers"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	Workers             int           `mapstructure:"workers"`
	Iterations          int           `mapstructure:"iterations"`
	MaxDuration         time.Duration `mapstructure:"max_duration"`
	Duration            time.Duration `mapstructure:"duration"`
	StartOffset         time.Duration `mapstructure:"start_offset"`
	GracefulStop        time.Duration `mapstructure:"graceful_stop"`
	Pacing              time.Duration `mapstructure:"pacing"`
	// ClientIdentity sends a distinct client header value per worker.
	ClientIdentity bool          `mapstructure:"client_identity"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// Scenario converts the file representation into an executor scenario.
func (s ScenarioConfig) Scenario() runner.Scenario {
	return runner.Scenario{
		Name:                s.Name,
		Executor:            runner.Executor(s.Executor),
		Rate:                s.Rate,
		TimeUnit:            s.TimeUnit,
		PreAllocatedWorkers: s.PreAllocatedWorkers,
		MaxWorkers:          s.MaxWorkers,
		Workers:             s.Workers,
		Iterations:          s.Iterations,
		MaxDuration:         s.MaxDuration,
		Duration:            s.Duration,
		StartOffset:         s.StartOffset,
		GracefulStop:        s.GracefulStop,
	}
}

// DefaultScenarios is the standard timeline used when no scenarios are
// configured: steady load, an overload burst, many distinct clients and a
// boundary race, staggered so each pattern sees a partly refilled limiter.
func DefaultScenarios() []ScenarioConfig {
	return []ScenarioConfig{
		{
			Name:     "sustained",
			Executor: string(runner.ConstantVUs),
			Traffic:  TrafficSustained,
			Workers:  5,
			Duration: 30 * time.Second,
			Pacing:   100 * time.Millisecond,
		},
		{
			Name:                "burst",
			Executor:            string(runner.ConstantArrivalRate),
			Traffic:             TrafficRequest,
			Rate:                100,
			TimeUnit:            time.Second,
			Duration:            10 * time.Second,
			PreAllocatedWorkers: 50,
			MaxWorkers:          200,
			StartOffset:         35 * time.Second,
		},
		{
			Name:           "many_clients",
			Executor:       string(runner.PerVUIterations),
			Traffic:        TrafficSustained,
			Workers:        50,
			Iterations:     20,
			MaxDuration:    time.Minute,
			Pacing:         100 * time.Millisecond,
			ClientIdentity: true,
			StartOffset:    50 * time.Second,
		},
		{
			Name:        "window_boundary",
			Executor:    string(runner.PerVUIterations),
			Traffic:     TrafficBoundary,
			Workers:     3,
			Iterations:  5,
			MaxDuration: time.Minute,
			StartOffset: 80 * time.Second,
		},
	}
}

// TracingConfig configures OpenTelemetry export. Tracing is on when Enable is
// set or an endpoint is given.
type TracingConfig struct {
	Enable      bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

func (t TracingConfig) Enabled() bool {
	return t.Enable || strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate defaults to Enabled unless propagation was set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the whole configuration and reports every problem at once.
func (c Config) Validate() error {
	var issues []string
	var warnings []string

	target := strings.TrimSpace(c.TargetURL)
	if target == "" {
		issues = append(issues, "target is required (use --target, LIMITPROBE_TARGET or BASE_URL)")
	} else if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target %q must be an absolute http or https URL", target))
	}

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.PreflightTimeout < 0 {
		issues = append(issues, "preflight timeout must be >= 0")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}
	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, "header names cannot be empty")
			break
		}
	}
	if strings.ContainsAny(strings.TrimSpace(c.ClientHeader), " :\t") {
		issues = append(issues, fmt.Sprintf("client header %q is not a valid header name", c.ClientHeader))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q must be console or json", c.LogFormat))
	}
	if r := c.Tracing.SampleRate; r < 0 || r > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample rate must be between 0.0 and 1.0, got %g", r))
	}

	if len(c.Scenarios) == 0 {
		issues = append(issues, "at least one scenario is required")
	}
	issues = append(issues, validateScenarios(c.Scenarios)...)

	for _, sc := range c.Scenarios {
		if sc.Rate > 1000 || sc.MaxWorkers > 500 || sc.Workers > 500 {
			warnings = append(warnings, fmt.Sprintf("WARNING: scenario %q is configured for heavy load. Ensure you have authorization to test the target system.", sc.Name))
		}
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateScenarios(scenarios []ScenarioConfig) []string {
	var issues []string
	seen := make(map[string]int, len(scenarios))
	for idx, sc := range scenarios {
		for _, issue := range sc.Scenario().Issues() {
			issues = append(issues, fmt.Sprintf("scenarios[%d]: %s", idx, issue))
		}
		switch sc.Traffic {
		case TrafficSustained, TrafficRequest, TrafficBoundary:
		case "":
			issues = append(issues, fmt.Sprintf("scenarios[%d]: traffic is required", idx))
		default:
			issues = append(issues, fmt.Sprintf("scenarios[%d]: unsupported traffic %q", idx, sc.Traffic))
		}
		if sc.Pacing < 0 {
			issues = append(issues, fmt.Sprintf("scenarios[%d]: pacing must be >= 0", idx))
		}
		if sc.MaxWait < 0 {
			issues = append(issues, fmt.Sprintf("scenarios[%d]: max wait must be >= 0", idx))
		}
		if sc.BatchSize < 0 {
			issues = append(issues, fmt.Sprintf("scenarios[%d]: batch size must be >= 0", idx))
		}
		if name := strings.TrimSpace(sc.Name); name != "" {
			if prev, ok := seen[name]; ok {
				issues = append(issues, fmt.Sprintf("scenarios[%d]: duplicate name also defined at index %d", idx, prev))
			} else {
				seen[name] = idx
			}
		}
	}
	return issues
}
