package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/orchestrator"
	"github.com/torosent/limitprobe/internal/runner"
	"github.com/torosent/limitprobe/internal/threshold"
)

func sampleReport(t *testing.T) orchestrator.Report {
	t.Helper()
	c := metrics.NewCollector()
	for i := 0; i < 5; i++ {
		c.Record("sustained", contract.Outcome{Kind: contract.KindAllowed, StatusCode: 200, Latency: 4 * time.Millisecond, Headers: contract.Headers{HasRemaining: true}})
	}
	c.Record("sustained", contract.Outcome{
		Kind:       contract.KindBlocked,
		StatusCode: 429,
		Latency:    2 * time.Millisecond,
		Violations: []contract.Violation{contract.ViolationMissingRetryAfter},
	})
	c.RecordAbandoned("sustained")
	c.RecordBoundaryBatch(true)
	stats := c.Stats(2 * time.Second)

	ths, err := threshold.ParseMultiple([]string{"blocked:count > 0", "violations:count == 0"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}

	return orchestrator.Report{
		RunID:      "01JABCDEF",
		Target:     "http://limiter.local/api",
		Started:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:   2 * time.Second,
		DurationMs: 2000,
		Stats:      stats,
		Scenarios: []runner.Result{{
			Scenario:  "sustained",
			Executor:  runner.ConstantVUs,
			Issued:    7,
			Completed: 6,
			Cancelled: 1,
			Workers:   2,
			Duration:  2 * time.Second,
		}},
		Thresholds: threshold.NewEvaluator(ths).Evaluate(stats),
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(t))

	output := buf.String()
	wants := []string{
		"Run ID:            01JABCDEF",
		"Total Requests:    6",
		"Allowed (200):     5",
		"Blocked (429):     1",
		"Flagged:           1",
		"missing_retry_after: 1",
		"Transitions:     1",
		"Abandoned:         1",
		"- sustained (constant-vus): issued=7, dropped=0, cancelled=1, workers=2 | requests allowed=5, blocked=1, malformed=0, abandoned=1",
		"sustained 429: 1",
		"[PASS] blocked:count > 0",
		"[FAIL] violations:count == 0",
		"1/2 passed",
	}
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q\n%s", want, output)
		}
	}
	if strings.Contains(output, "Interrupted") {
		t.Error("report should not mention interruption")
	}
}

func TestPrintReportInterrupted(t *testing.T) {
	r := sampleReport(t)
	r.Interrupted = true
	var buf bytes.Buffer
	PrintReport(&buf, r)
	if !strings.Contains(buf.String(), "partial results") {
		t.Error("interrupted report should say results are partial")
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport(t)); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "01JABCDEF" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	stats, ok := decoded["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("stats missing: %v", decoded)
	}
	if stats["blocked"] != float64(1) {
		t.Errorf("stats.blocked = %v, want 1", stats["blocked"])
	}
	if _, ok := decoded["thresholds"]; !ok {
		t.Error("thresholds missing from JSON")
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport(t)); err != nil {
		t.Fatalf("PrintYAMLReport failed: %v", err)
	}

	var decoded struct {
		RunID string `yaml:"run_id"`
		Stats struct {
			Allowed int64 `yaml:"allowed"`
		} `yaml:"stats"`
		Scenarios []struct {
			Scenario string `yaml:"scenario"`
		} `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded.RunID != "01JABCDEF" || decoded.Stats.Allowed != 5 {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Scenarios) != 1 || decoded.Scenarios[0].Scenario != "sustained" {
		t.Errorf("scenarios = %+v", decoded.Scenarios)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, Format("html"), sampleReport(t)); err == nil {
		t.Fatal("Render(html) error = nil")
	}
}

func TestWriteReportFileConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	r := sampleReport(t)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- FileRenderer(path, FormatJSON).Render(r)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("FileRenderer error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var decoded orchestrator.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report file is not a single JSON document: %v", err)
	}
	if decoded.RunID != r.RunID {
		t.Errorf("RunID = %q, want %q", decoded.RunID, r.RunID)
	}
}
