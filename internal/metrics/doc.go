// Package metrics accumulates classified responses for a verification run.
//
// A single [Collector] is shared by every scenario. Each recorded
// [contract.Outcome] increments exactly one of allowed, blocked or malformed,
// and contributes its latency to the overall histogram and to the histogram
// of its kind:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//
//	collector.Record("burst", outcome)
//	collector.RecordDropped("burst")   // arrival-rate tick with no free worker
//	collector.RecordAbandoned("burst") // in flight at grace expiry
//
//	stats := collector.Stats(elapsed)
//
// # Statistics
//
// [Stats] is a read-only snapshot: totals per kind, violation and transport
// error counts, latency percentiles (overall, allowed, blocked, malformed),
// per-scenario breakdowns and window-boundary race counts.
//
// # Observers
//
// An [Observer] registered with [Collector.AddObserver] sees every event after
// it has been recorded. The Prometheus exporter and the progress reporter are
// both observers.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package metrics
