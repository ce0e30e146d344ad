package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/limitprobe/internal/metrics"
)

// DefaultThresholds apply when none are configured: the limiter must block
// at least once, and blocking must stay fast.
var DefaultThresholds = []string{
	"blocked:count > 0",
	"blocked_duration:p95 < 2000",
}

// Threshold represents an assertion over the run's statistics.
type Threshold struct {
	Metric    string  `json:"metric" yaml:"metric"`       // e.g., "blocked", "req_duration"
	Aggregate string  `json:"aggregate" yaml:"aggregate"` // e.g., "count", "rate", "p95"
	Operator  string  `json:"operator" yaml:"operator"`   // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 `json:"value" yaml:"value"`
	Raw       string  `json:"raw" yaml:"raw"`
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if e == nil || len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

// AllPass reports whether every result passed.
func AllPass(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// counterMetrics read a count from Stats. Their "rate" aggregate is the
// fraction of classified requests, except for requests itself which is
// requests per second.
var counterMetrics = map[string]func(metrics.Stats) int64{
	"requests":   func(s metrics.Stats) int64 { return s.Total },
	"allowed":    func(s metrics.Stats) int64 { return s.Allowed },
	"blocked":    func(s metrics.Stats) int64 { return s.Blocked },
	"malformed":  func(s metrics.Stats) int64 { return s.Malformed },
	"violations": func(s metrics.Stats) int64 { return s.Flagged },
	"dropped":    func(s metrics.Stats) int64 { return s.Dropped },
	"abandoned":  func(s metrics.Stats) int64 { return s.Abandoned },
}

// durationMetrics select a latency distribution; values are milliseconds.
var durationMetrics = map[string]func(metrics.Stats) metrics.LatencyStats{
	"req_duration":       func(s metrics.Stats) metrics.LatencyStats { return s.Latency },
	"allowed_duration":   func(s metrics.Stats) metrics.LatencyStats { return s.AllowedLatency },
	"blocked_duration":   func(s metrics.Stats) metrics.LatencyStats { return s.BlockedLatency },
	"malformed_duration": func(s metrics.Stats) metrics.LatencyStats { return s.MalformedLatency },
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "blocked:count > 0"             (number of 429 responses)
//   - "violations:rate < 0.01"        (flagged fraction of requests)
//   - "requests:rate > 10"            (requests per second)
//   - "blocked_duration:p95 < 2000"   (latency percentile in ms)
//   - "req_duration:avg < 200"        (average latency in ms)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'blocked_duration:p95 < 2000')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	_, isCounter := counterMetrics[metric]
	_, isDuration := durationMetrics[metric]
	switch {
	case isCounter:
		if aggregate != "count" && aggregate != "rate" {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", aggregate, metric)
		}
	case isDuration:
		if !isValidLatencyAggregate(aggregate) {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: p50, p90, p95, p99, avg, min, max)", aggregate, metric)
		}
	default:
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(supportedMetrics(), ", "))
	}

	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

func supportedMetrics() []string {
	names := make([]string, 0, len(counterMetrics)+len(durationMetrics))
	for name := range counterMetrics {
		names = append(names, name)
	}
	for name := range durationMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidLatencyAggregate(aggregate string) bool {
	switch aggregate {
	case "p50", "p90", "p95", "p99", "avg", "min", "max":
		return true
	}
	return false
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	if counter, ok := counterMetrics[t.Metric]; ok {
		return extractCounter(t.Metric, t.Aggregate, counter(stats), stats)
	}
	if dist, ok := durationMetrics[t.Metric]; ok {
		return extractLatency(t.Metric, t.Aggregate, dist(stats))
	}
	return 0, fmt.Errorf("unknown metric: %s", t.Metric)
}

func extractCounter(metric, aggregate string, n int64, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "count":
		return float64(n), nil
	case "rate":
		if metric == "requests" {
			return stats.RequestsPerSec, nil
		}
		if stats.Total == 0 {
			return 0, nil
		}
		return float64(n) / float64(stats.Total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", aggregate, metric)
	}
}

func extractLatency(metric, aggregate string, l metrics.LatencyStats) (float64, error) {
	switch aggregate {
	case "p50":
		return l.P50Ms, nil
	case "p90":
		return l.P90Ms, nil
	case "p95":
		return l.P95Ms, nil
	case "p99":
		return l.P99Ms, nil
	case "avg", "mean":
		return l.MeanMs, nil
	case "min":
		return l.MinMs, nil
	case "max":
		return l.MaxMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", aggregate, metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
