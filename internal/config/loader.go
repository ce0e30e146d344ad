package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments, in increasing order of precedence.
type Loader struct {
	// lookupEnv replaces os.LookupEnv in tests.
	lookupEnv func(string) (string, bool)
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// Environment variables consulted for the target base URL, in order.
const (
	EnvTarget  = "LIMITPROBE_TARGET"
	EnvBaseURL = "BASE_URL"
)

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	envTarget := l.envTarget()

	// With nothing to go on, show usage instead of a validation error.
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" && envTarget == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Headers:      map[string]string{},
		Timeout:      DefaultTimeout,
		ClientHeader: DefaultClientHeader,
		Progress:     true,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		ConfigFile:   configPath,
		Tracing:      TracingConfig{SampleRate: 1.0},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if envTarget != "" {
		cfg.TargetURL = envTarget
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.ClientHeader = strings.TrimSpace(cfg.ClientHeader)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = DefaultScenarios()
	}

	return cfg, nil
}

// envTarget returns the first non-empty of LIMITPROBE_TARGET and BASE_URL.
func (l Loader) envTarget() string {
	if l.lookupEnv != nil {
		for _, name := range []string{EnvTarget, EnvBaseURL} {
			if val, ok := l.lookupEnv(name); ok && strings.TrimSpace(val) != "" {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}
	envViper := viper.New()
	_ = envViper.BindEnv("target", EnvTarget, EnvBaseURL)
	return strings.TrimSpace(envViper.GetString("target"))
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "clientheader", "client_header", "client-header"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("client_header: %w", err)
		}
		cfg.ClientHeader = val
	}

	if raw, ok := lookupSetting(settings, "ratelimitheaders", "rate_limit_headers", "rate-limit-headers"); ok {
		names, err := parseHeaderConfig(raw)
		if err != nil {
			return fmt.Errorf("rate_limit_headers: %w", err)
		}
		cfg.RateLimitHeaders = names
	}

	if raw, ok := lookupSetting(settings, "expect"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		if path, ok := lookupSetting(entry, "jsonpath", "json_path", "json-path"); ok {
			val, err := asString(path)
			if err != nil {
				return fmt.Errorf("expect.json_path: %w", err)
			}
			cfg.Expect.JSONPath = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "scenarios"); ok {
		scenarios, err := parseScenarios(raw)
		if err != nil {
			return fmt.Errorf("scenarios: %w", err)
		}
		cfg.Scenarios = scenarios
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = vals
	}

	if raw, ok := lookupSetting(settings, "skippreflight", "skip_preflight", "skip-preflight"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("skip_preflight: %w", err)
		}
		cfg.SkipPreflight = val
	}

	if raw, ok := lookupSetting(settings, "preflighttimeout", "preflight_timeout", "preflight-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("preflight_timeout: %w", err)
		}
		cfg.PreflightTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "yamloutput", "yaml_output", "yaml-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("yaml_output: %w", err)
		}
		cfg.YAMLOutput = val
	}

	if raw, ok := lookupSetting(settings, "reportfile", "report_file", "report-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("report_file: %w", err)
		}
		cfg.ReportFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "metricsaddr", "metrics_addr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		if val != "" {
			cfg.LogLevel = val
		}
	}

	if raw, ok := lookupSetting(settings, "logformat", "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_format: %w", err)
		}
		if val != "" {
			cfg.LogFormat = val
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func parseHeaderConfig(value interface{}) (HeaderConfig, error) {
	var names HeaderConfig
	if value == nil {
		return names, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return names, err
	}
	fields := []struct {
		dst  *string
		keys []string
	}{
		{&names.Remaining, []string{"remaining"}},
		{&names.Limit, []string{"limit"}},
		{&names.Reset, []string{"reset"}},
		{&names.RetryAfter, []string{"retryafter", "retry_after", "retry-after"}},
	}
	for _, f := range fields {
		raw, ok := lookupSetting(entry, f.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return names, fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = strings.TrimSpace(val)
	}
	return names, nil
}

func parseScenarios(value interface{}) ([]ScenarioConfig, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	scenarios := make([]ScenarioConfig, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		sc, err := buildScenario(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func buildScenario(settings map[string]interface{}) (ScenarioConfig, error) {
	var sc ScenarioConfig

	texts := []struct {
		dst  *string
		keys []string
	}{
		{&sc.Name, []string{"name"}},
		{&sc.Executor, []string{"executor"}},
	}
	for _, f := range texts {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return ScenarioConfig{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	sc.Executor = strings.ToLower(sc.Executor)

	if raw, ok := lookupSetting(settings, "traffic"); ok {
		val, err := asString(raw)
		if err != nil {
			return ScenarioConfig{}, fmt.Errorf("traffic: %w", err)
		}
		sc.Traffic = TrafficKind(strings.ToLower(strings.TrimSpace(val)))
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&sc.Rate, []string{"rate"}},
		{&sc.PreAllocatedWorkers, []string{"preallocatedworkers", "pre_allocated_workers", "pre-allocated-workers"}},
		{&sc.MaxWorkers, []string{"maxworkers", "max_workers", "max-workers"}},
		{&sc.Workers, []string{"workers"}},
		{&sc.Iterations, []string{"iterations"}},
		{&sc.BatchSize, []string{"batchsize", "batch_size", "batch-size"}},
	}
	for _, f := range ints {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return ScenarioConfig{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&sc.TimeUnit, []string{"timeunit", "time_unit", "time-unit"}},
		{&sc.MaxDuration, []string{"maxduration", "max_duration", "max-duration"}},
		{&sc.Duration, []string{"duration"}},
		{&sc.StartOffset, []string{"startoffset", "start_offset", "start-offset"}},
		{&sc.GracefulStop, []string{"gracefulstop", "graceful_stop", "graceful-stop"}},
		{&sc.Pacing, []string{"pacing"}},
		{&sc.MaxWait, []string{"maxwait", "max_wait", "max-wait"}},
	}
	for _, f := range durations {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return ScenarioConfig{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = dur
		}
	}

	if raw, ok := lookupSetting(settings, "clientidentity", "client_identity", "client-identity"); ok {
		val, err := asBool(raw)
		if err != nil {
			return ScenarioConfig{}, fmt.Errorf("client_identity: %w", err)
		}
		sc.ClientIdentity = val
	}

	return sc, nil
}

func applyTracingSettings(tc *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		tc.Enable = val
	}
	for _, f := range []struct {
		dst  *string
		keys []string
	}{
		{&tc.Endpoint, []string{"endpoint"}},
		{&tc.Protocol, []string{"protocol"}},
		{&tc.ServiceName, []string{"servicename", "service_name", "service-name"}},
	} {
		if raw, ok := lookupSetting(entry, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(entry, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return nil
}
