package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "limitprobe",
		Short:         "Drive an HTTP rate limiter and verify its response contract",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target flags
	flags.String("target", "", "Base URL of the rate-limited endpoint (env LIMITPROBE_TARGET or BASE_URL)")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout")
	flags.String("client-header", DefaultClientHeader, "Header carrying the per-worker client identity")
	flags.String("remaining-header", "", "Override the remaining-quota header name")
	flags.String("limit-header", "", "Override the limit header name")
	flags.String("reset-header", "", "Override the reset header name")
	flags.String("retry-after-header", "", "Override the retry hint header name")
	flags.String("expect-json-path", "", "JSON path every allowed response body must contain")

	// Run flags
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'blocked_duration:p95 < 2000')")
	flags.Bool("skip-preflight", false, "Skip the startup reachability check")
	flags.Duration("preflight-timeout", 0, "Give up on the reachability check after this long (0 uses the default)")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted report")
	flags.Bool("yaml-output", false, "Emit YAML formatted report")
	flags.String("report-file", "", "Write the report to this file instead of stdout")
	flags.Bool("progress", true, "Show a live progress line on stderr")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", DefaultLogFormat, "Log encoding: console or json")

	// Tracing flags
	flags.Bool("tracing", false, "Enable OpenTelemetry tracing")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of requests to trace (0.0 to 1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS to the collector")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"target", &cfg.TargetURL},
		{"client-header", &cfg.ClientHeader},
		{"remaining-header", &cfg.RateLimitHeaders.Remaining},
		{"limit-header", &cfg.RateLimitHeaders.Limit},
		{"reset-header", &cfg.RateLimitHeaders.Reset},
		{"retry-after-header", &cfg.RateLimitHeaders.RetryAfter},
		{"expect-json-path", &cfg.Expect.JSONPath},
		{"report-file", &cfg.ReportFile},
		{"metrics-addr", &cfg.MetricsAddr},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"skip-preflight", &cfg.SkipPreflight},
		{"json-output", &cfg.JSONOutput},
		{"yaml-output", &cfg.YAMLOutput},
		{"progress", &cfg.Progress},
		{"tracing", &cfg.Tracing.Enable},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range boolFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("preflight-timeout") {
		val, err := fs.GetDuration("preflight-timeout")
		if err != nil {
			return err
		}
		cfg.PreflightTimeout = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return nil
}

