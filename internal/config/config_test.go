package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/limitprobe/internal/config"
	"github.com/torosent/limitprobe/internal/runner"
)

func clearTargetEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvTarget, "")
	t.Setenv(config.EnvBaseURL, "")
}

func TestLoadDefaults(t *testing.T) {
	clearTargetEnv(t)
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{"--target", "http://localhost:8080/api"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "http://localhost:8080/api" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.ClientHeader != "X-Client-ID" {
		t.Errorf("ClientHeader = %q, want X-Client-ID", cfg.ClientHeader)
	}
	if !cfg.Progress {
		t.Error("Progress = false, want true")
	}
	if cfg.JSONOutput || cfg.YAMLOutput {
		t.Error("structured output should be off by default")
	}
	if cfg.Tracing.Enabled() {
		t.Error("Tracing.Enabled() = true, want false")
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %g, want 1.0", cfg.Tracing.SampleRate)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers len = %d, want 0", len(cfg.Headers))
	}

	names := make([]string, len(cfg.Scenarios))
	for i, sc := range cfg.Scenarios {
		names[i] = sc.Name
	}
	if got := strings.Join(names, ","); got != "sustained,burst,many_clients,window_boundary" {
		t.Errorf("default scenarios = %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestDefaultScenariosAreValidAndStaggered(t *testing.T) {
	var prev time.Duration = -1
	for _, sc := range config.DefaultScenarios() {
		if err := sc.Scenario().Validate(); err != nil {
			t.Errorf("%s: %v", sc.Name, err)
		}
		if sc.StartOffset <= prev {
			t.Errorf("%s: start offset %v not after %v", sc.Name, sc.StartOffset, prev)
		}
		prev = sc.StartOffset
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	clearTargetEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"target": "https://api.example.com/limited",
		"headers": {"Accept": "application/json"},
		"timeout": "5s",
		"jsonOutput": true,
		"thresholds": ["blocked:count > 0", "malformed:count == 0"],
		"scenarios": [
			{
				"name": "steady",
				"executor": "constant-vus",
				"traffic": "sustained",
				"workers": 2,
				"duration": "3s",
				"pacing": "200ms"
			}
		]
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--header", "Authorization=Bearer token"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "https://api.example.com/limited" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.Headers["Accept"] != "application/json" {
		t.Errorf("Headers[Accept] = %q", cfg.Headers["Accept"])
	}
	if cfg.Headers["Authorization"] != "Bearer token" {
		t.Errorf("Headers[Authorization] = %q", cfg.Headers["Authorization"])
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", cfg.Timeout)
	}
	if !cfg.JSONOutput {
		t.Error("JSONOutput = false, want true")
	}
	if len(cfg.Thresholds) != 2 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if len(cfg.Scenarios) != 1 {
		t.Fatalf("Scenarios len = %d, want 1 (file replaces defaults)", len(cfg.Scenarios))
	}
	sc := cfg.Scenarios[0].Scenario()
	if sc.Executor != runner.ConstantVUs || sc.Workers != 2 || sc.Duration != 3*time.Second {
		t.Errorf("scenario = %+v", sc)
	}
	if cfg.Scenarios[0].Pacing != 200*time.Millisecond {
		t.Errorf("Pacing = %v, want 200ms", cfg.Scenarios[0].Pacing)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	clearTargetEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"target: https://service.example.com",
		"log_level: debug",
		"log_format: JSON",
		"metrics_addr: 127.0.0.1:9100",
		"report_file: out/report.txt",
		"rate_limit_headers:",
		"  remaining: RateLimit-Remaining",
		"expect:",
		"  json_path: status",
		"tracing:",
		"  endpoint: otel:4317",
		"  protocol: grpc",
		"  insecure: true",
		"scenarios:",
		"  - name: burst",
		"    executor: constant-arrival-rate",
		"    traffic: request",
		"    rate: 20",
		"    duration: 2s",
		"    pre_allocated_workers: 4",
		"    max_workers: 8",
		"  - name: edge",
		"    executor: per-vu-iterations",
		"    traffic: boundary",
		"    workers: 1",
		"    iterations: 2",
		"    start_offset: 3s",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--log-level", "warn"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want flag override warn", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.ReportFile != "out/report.txt" {
		t.Errorf("ReportFile = %q", cfg.ReportFile)
	}
	if cfg.RateLimitHeaders.Remaining != "RateLimit-Remaining" {
		t.Errorf("RateLimitHeaders.Remaining = %q", cfg.RateLimitHeaders.Remaining)
	}
	if cfg.Expect.JSONPath != "status" {
		t.Errorf("Expect.JSONPath = %q", cfg.Expect.JSONPath)
	}
	if !cfg.Tracing.Enabled() || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if len(cfg.Scenarios) != 2 {
		t.Fatalf("Scenarios len = %d, want 2", len(cfg.Scenarios))
	}
	if cfg.Scenarios[1].Traffic != config.TrafficBoundary || cfg.Scenarios[1].StartOffset != 3*time.Second {
		t.Errorf("edge scenario = %+v", cfg.Scenarios[1])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearTargetEnv(t)
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoadHelp(t *testing.T) {
	clearTargetEnv(t)
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadTargetFromEnvironment(t *testing.T) {
	t.Setenv(config.EnvTarget, "")
	t.Setenv(config.EnvBaseURL, "http://from-env:8080")

	cfg, err := config.NewLoader().Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetURL != "http://from-env:8080" {
		t.Errorf("TargetURL = %q, want http://from-env:8080", cfg.TargetURL)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			TargetURL: "http://localhost",
			Scenarios: config.DefaultScenarios(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing target", func(c *config.Config) { c.TargetURL = "" }, "target is required"},
		{"relative target", func(c *config.Config) { c.TargetURL = "/api" }, "absolute http or https URL"},
		{"ftp target", func(c *config.Config) { c.TargetURL = "ftp://host/x" }, "absolute http or https URL"},
		{"negative timeout", func(c *config.Config) { c.Timeout = -time.Second }, "timeout must be >= 0"},
		{"both outputs", func(c *config.Config) { c.JSONOutput, c.YAMLOutput = true, true }, "mutually exclusive"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log format"},
		{"sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample rate"},
		{"no scenarios", func(c *config.Config) { c.Scenarios = nil }, "at least one scenario"},
		{"client header", func(c *config.Config) { c.ClientHeader = "X Client" }, "not a valid header name"},
		{
			"bad traffic",
			func(c *config.Config) { c.Scenarios[0].Traffic = "websocket" },
			`scenarios[0]: unsupported traffic "websocket"`,
		},
		{
			"scenario executor issue",
			func(c *config.Config) { c.Scenarios[1].Rate = 0 },
			"scenarios[1]: rate must be greater than zero",
		},
		{
			"duplicate names",
			func(c *config.Config) { c.Scenarios[2].Name = c.Scenarios[0].Name },
			"scenarios[2]: duplicate name also defined at index 0",
		},
		{
			"negative pacing",
			func(c *config.Config) { c.Scenarios[0].Pacing = -time.Millisecond },
			"pacing must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidationErrorListsEveryIssue(t *testing.T) {
	cfg := config.Config{Timeout: -1}
	err := cfg.Validate()
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
	if n := len(verr.Issues()); n < 3 {
		t.Errorf("Issues() = %v, want target, timeout and scenario issues", verr.Issues())
	}
}

func TestTracingConfig(t *testing.T) {
	off := false
	tests := []struct {
		name          string
		cfg           config.TracingConfig
		wantEnabled   bool
		wantPropagate bool
	}{
		{"zero", config.TracingConfig{}, false, false},
		{"endpoint", config.TracingConfig{Endpoint: "otel:4317"}, true, true},
		{"flag only", config.TracingConfig{Enable: true}, true, true},
		{"propagation off", config.TracingConfig{Endpoint: "otel:4317", Propagate: &off}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.wantEnabled)
			}
			if got := tt.cfg.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
		})
	}
}
