// Package orchestrator runs a plan of scenarios against one target and
// produces the final report.
//
// Scenarios start on timers at their configured offsets and run
// concurrently. They share one metrics collector. When all have finished the
// orchestrator evaluates thresholds and passes the [Report] to every
// configured [Renderer].
package orchestrator
