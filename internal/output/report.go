package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/orchestrator"
	"github.com/torosent/limitprobe/internal/threshold"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r orchestrator.Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Rate Limiter Probe Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	if r.Target != "" {
		fmt.Fprintf(w, "Target:            %s\n", r.Target)
	}
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintln(w, "Interrupted:       yes (partial results)")
	}
	fmt.Fprintf(w, "Total Requests:    %d\n", stats.Total)
	fmt.Fprintf(w, "Allowed (200):     %d\n", stats.Allowed)
	fmt.Fprintf(w, "Blocked (429):     %d\n", stats.Blocked)
	fmt.Fprintf(w, "Malformed:         %d\n", stats.Malformed)
	fmt.Fprintf(w, "Flagged:           %d\n", stats.Flagged)
	fmt.Fprintf(w, "Dropped:           %d\n", stats.Dropped)
	fmt.Fprintf(w, "Abandoned:         %d\n", stats.Abandoned)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)

	fmt.Fprintln(w, "\nLatency:")
	writeLatencyRow(w, "All", stats.Latency)
	writeLatencyRow(w, "Allowed", stats.AllowedLatency)
	writeLatencyRow(w, "Blocked", stats.BlockedLatency)
	writeLatencyRow(w, "Malformed", stats.MalformedLatency)

	if len(stats.Violations) > 0 {
		fmt.Fprintln(w, "\nContract Violations:")
		writeCounts(w, stats.Violations, "  ")
	}
	if len(stats.TransportErrors) > 0 {
		fmt.Fprintln(w, "\nTransport Errors:")
		writeCounts(w, stats.TransportErrors, "  ")
	}

	if stats.Boundary.Batches > 0 {
		fmt.Fprintln(w, "\nWindow Boundary:")
		fmt.Fprintf(w, "  Batches:         %d\n", stats.Boundary.Batches)
		fmt.Fprintf(w, "  Transitions:     %d\n", stats.Boundary.Transitions)
	}

	if len(r.Scenarios) > 0 {
		fmt.Fprintln(w, "\nScenario Breakdown:")
		for _, res := range r.Scenarios {
			sc := stats.Scenarios[res.Scenario]
			fmt.Fprintf(
				w,
				"  - %s (%s): issued=%d, dropped=%d, cancelled=%d, workers=%d | requests allowed=%d, blocked=%d, malformed=%d, abandoned=%d, p95=%.1fms\n",
				res.Scenario,
				res.Executor,
				res.Issued,
				res.Dropped,
				res.Cancelled,
				res.Workers,
				sc.Allowed,
				sc.Blocked,
				sc.Malformed,
				sc.Abandoned,
				sc.P95LatencyMs,
			)
		}
	}

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Buckets:")
		writeStatusBuckets(w, stats.StatusCodes, "  ")
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		writeThresholds(w, r.Thresholds)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r orchestrator.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r orchestrator.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeLatencyRow(w io.Writer, label string, l metrics.LatencyStats) {
	if l.Count == 0 {
		fmt.Fprintf(w, "  %-10s n=0\n", label+":")
		return
	}
	fmt.Fprintf(
		w,
		"  %-10s n=%d min=%.1fms p50=%.1fms p90=%.1fms p95=%.1fms p99=%.1fms max=%.1fms\n",
		label+":",
		l.Count,
		l.MinMs,
		l.P50Ms,
		l.P90Ms,
		l.P95Ms,
		l.P99Ms,
		l.MaxMs,
	)
}

func writeCounts(w io.Writer, counts map[string]int64, indent string) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s: %d\n", indent, k, counts[k])
	}
}

func writeStatusBuckets(w io.Writer, buckets map[string]map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(
			w,
			"%s%s %s: %d\n",
			indent,
			row.Scenario,
			strings.ToUpper(row.Code),
			row.Count,
		)
	}
}

func writeThresholds(w io.Writer, results []threshold.Result) {
	passed := 0
	for _, res := range results {
		mark := "FAIL"
		if res.Pass {
			mark = "PASS"
			passed++
		}
		fmt.Fprintf(w, "  [%s] %s (actual %.2f)\n", mark, res.Threshold.Raw, res.Actual)
	}
	fmt.Fprintf(w, "  %d/%d passed\n", passed, len(results))
}
