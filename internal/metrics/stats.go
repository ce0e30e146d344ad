package metrics

import "time"

// Stats is the read-only snapshot handed to reporting and threshold evaluation.
type Stats struct {
	Total     int64 `json:"total" yaml:"total"`
	Allowed   int64 `json:"allowed" yaml:"allowed"`
	Blocked   int64 `json:"blocked" yaml:"blocked"`
	Malformed int64 `json:"malformed" yaml:"malformed"`
	// Flagged counts responses with at least one contract violation.
	Flagged   int64 `json:"flagged" yaml:"flagged"`
	Dropped   int64 `json:"dropped" yaml:"dropped"`
	Abandoned int64 `json:"abandoned" yaml:"abandoned"`

	Violations      map[string]int64 `json:"violations,omitempty" yaml:"violations,omitempty"`
	TransportErrors map[string]int64 `json:"transport_errors,omitempty" yaml:"transport_errors,omitempty"`

	Latency          LatencyStats `json:"latency" yaml:"latency"`
	AllowedLatency   LatencyStats `json:"allowed_latency" yaml:"allowed_latency"`
	BlockedLatency   LatencyStats `json:"blocked_latency" yaml:"blocked_latency"`
	MalformedLatency LatencyStats `json:"malformed_latency" yaml:"malformed_latency"`

	Boundary BoundaryStats `json:"boundary" yaml:"boundary"`

	Scenarios   map[string]ScenarioStats  `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	StatusCodes map[string]map[string]int `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`

	Duration       time.Duration `json:"-" yaml:"-"`
	DurationMs     float64       `json:"duration_ms" yaml:"duration_ms"`
	RequestsPerSec float64       `json:"requests_per_sec" yaml:"requests_per_sec"`
}

// LatencyStats summarizes one latency distribution.
type LatencyStats struct {
	Count int64         `json:"count" yaml:"count"`
	Min   time.Duration `json:"-" yaml:"-"`
	Max   time.Duration `json:"-" yaml:"-"`
	Mean  time.Duration `json:"-" yaml:"-"`
	P50   time.Duration `json:"-" yaml:"-"`
	P90   time.Duration `json:"-" yaml:"-"`
	P95   time.Duration `json:"-" yaml:"-"`
	P99   time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms  float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
}

// ScenarioStats is the per-scenario slice of Stats.
type ScenarioStats struct {
	Total        int64         `json:"total" yaml:"total"`
	Allowed      int64         `json:"allowed" yaml:"allowed"`
	Blocked      int64         `json:"blocked" yaml:"blocked"`
	Malformed    int64         `json:"malformed" yaml:"malformed"`
	Flagged      int64         `json:"flagged" yaml:"flagged"`
	Dropped      int64         `json:"dropped" yaml:"dropped"`
	Abandoned    int64         `json:"abandoned" yaml:"abandoned"`
	P95Latency   time.Duration `json:"-" yaml:"-"`
	P95LatencyMs float64       `json:"p95_latency_ms" yaml:"p95_latency_ms"`
}

// BoundaryStats counts window-boundary races.
type BoundaryStats struct {
	Batches     int64 `json:"batches" yaml:"batches"`
	Transitions int64 `json:"transitions" yaml:"transitions"`
}
