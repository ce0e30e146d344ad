package runner

import "context"

type ctxKey int

const (
	workerIDKey ctxKey = iota
	scenarioKey
)

func withWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerID returns the index of the worker running the current iteration.
func WorkerID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerIDKey).(int)
	return id, ok
}

func withScenario(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scenarioKey, name)
}

// ScenarioName returns the name of the scenario the iteration belongs to.
func ScenarioName(ctx context.Context) string {
	name, _ := ctx.Value(scenarioKey).(string)
	return name
}
