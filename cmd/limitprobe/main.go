package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/limitprobe/internal/config"
	"github.com/torosent/limitprobe/internal/logging"
	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/orchestrator"
	"github.com/torosent/limitprobe/internal/output"
	"github.com/torosent/limitprobe/internal/telemetry"
	"github.com/torosent/limitprobe/internal/threshold"
	"github.com/torosent/limitprobe/internal/tracing"
	"github.com/torosent/limitprobe/internal/traffic"
)

const (
	progressInterval        = time.Second
	defaultPreflightTimeout = 10 * time.Second
	shutdownTimeout         = 5 * time.Second
)

// errThresholdsFailed marks a completed run whose thresholds did not hold.
var errThresholdsFailed = errors.New("thresholds failed")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errThresholdsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds := cfg.Thresholds
	if len(thresholds) == 0 {
		thresholds = threshold.DefaultThresholds
	}
	parsed, err := threshold.ParseMultiple(thresholds)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer shutdown(log, "tracing", tp.Shutdown)

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		exporter := telemetry.NewExporter()
		collector.AddObserver(exporter)
		srv, err := telemetry.Serve(cfg.MetricsAddr, exporter, log)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer shutdown(log, "metrics server", srv.Shutdown)
	}

	deps := planDeps{
		collector:  collector,
		httpClient: traffic.NewHTTPClient(cfg.Timeout),
		tracer:     tp.Tracer(),
		propagate:  tp.ShouldPropagate(),
		log:        log,
	}
	plan, err := buildPlan(cfg, deps)
	if err != nil {
		return err
	}

	if !cfg.SkipPreflight {
		if err := preflight(ctx, cfg, deps); err != nil {
			return err
		}
	}

	orch, err := orchestrator.New(plan, orchestrator.Options{
		Target:     cfg.TargetURL,
		Collector:  collector,
		Thresholds: parsed,
		Renderers:  renderers(cfg, stdout),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, stderr)
		progress.Start()
	}
	report, err := orch.Run(ctx)
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stderr)
	}
	if err != nil {
		return err
	}

	if !report.Passed() {
		return errThresholdsFailed
	}
	return nil
}

// preflight fails the run before any scenario starts when the target never
// answers.
func preflight(ctx context.Context, cfg *config.Config, deps planDeps) error {
	client, err := traffic.NewClient(traffic.Options{
		Target:     cfg.TargetURL,
		Headers:    makeHeaders(cfg.Headers),
		Logger:     deps.log,
		HTTPClient: deps.httpClient,
	})
	if err != nil {
		return err
	}
	timeout := cfg.PreflightTimeout
	if timeout <= 0 {
		timeout = defaultPreflightTimeout
	}
	return client.Preflight(ctx, timeout)
}

func renderers(cfg *config.Config, stdout io.Writer) []orchestrator.Renderer {
	format := output.FormatText
	switch {
	case cfg.JSONOutput:
		format = output.FormatJSON
	case cfg.YAMLOutput:
		format = output.FormatYAML
	}
	if cfg.ReportFile == "" {
		return []orchestrator.Renderer{output.WriterRenderer(stdout, format)}
	}
	return []orchestrator.Renderer{
		output.FileRenderer(cfg.ReportFile, format),
		output.WriterRenderer(stdout, output.FormatText),
	}
}

func shutdown(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}
