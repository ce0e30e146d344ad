// Package runner executes scenarios: independently scheduled workloads that
// invoke a traffic function repeatedly under one of three executors.
//
//   - [ConstantArrivalRate]: iterations start at Rate per TimeUnit for
//     Duration, independent of completion. Idle workers are reused; new ones
//     are started up to MaxWorkers; beyond that the iteration is dropped.
//   - [PerVUIterations]: each of Workers runs Iterations sequentially, with no
//     new iteration after MaxDuration.
//   - [ConstantVUs]: Workers loop until Duration.
//
// # Basic Usage
//
//	sc := runner.Scenario{
//		Name:                "burst",
//		Executor:            runner.ConstantArrivalRate,
//		Rate:                50,
//		Duration:            10 * time.Second,
//		PreAllocatedWorkers: 20,
//		MaxWorkers:          100,
//	}
//	res := runner.Execute(ctx, sc, requester, runner.Options{Logger: log})
//
// # Graceful Stop
//
// When the active window closes, in-flight iterations get GracefulStop to
// finish. After that their context is cancelled with [ErrGraceExpired] and
// they are reported in [Result].Cancelled. Traffic functions record the
// requests themselves as abandoned.
//
// Iterations can find their worker index with [WorkerID] and their scenario
// with [ScenarioName].
package runner
