package feed

import "fmt"

// WalkerKey returns the Redis key of a walker status hash.
// Pattern: pmodel:{run}:walker:{worker_id}
func WalkerKey(runName string, worker int) string {
	return fmt.Sprintf("pmodel:%s:walker:%d", runName, worker)
}

// WalkerKeyPattern matches every walker status hash of a run.
func WalkerKeyPattern(runName string) string {
	return fmt.Sprintf("pmodel:%s:walker:*", runName)
}

// StepEventsChannel returns the Pub/Sub channel of step events.
// Pattern: pmodel:{run}:step_events
func StepEventsChannel(runName string) string {
	return fmt.Sprintf("pmodel:%s:step_events", runName)
}
