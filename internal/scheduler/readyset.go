package scheduler

import "github.com/anthonybaldwin/crewforge/internal/plan"

// readySet returns every step whose dependencies have all completed and
// that has not itself reached a terminal status, in DAG order. malformed
// reports a stuck plan: steps remain but none are ready. Since only
// completed dependencies count, this arises from a dependency cycle, a
// dangling DependsOn id, or a dependency that ended failed or stopped.
func readySet(dag plan.DAG, status map[string]stepStatus) (ready []plan.Step, malformed bool) {
	pending := 0
	for _, step := range dag.Steps {
		if _, done := status[step.ID]; done {
			continue
		}
		pending++
		if depsSatisfied(step, status) {
			ready = append(ready, step)
		}
	}
	if pending > 0 && len(ready) == 0 {
		return nil, true
	}
	return ready, false
}

func depsSatisfied(step plan.Step, status map[string]stepStatus) bool {
	for _, dep := range step.DependsOn {
		if status[dep] != stepCompleted {
			return false
		}
	}
	return true
}

// stepStatus is the Scheduler's in-memory, workflow-local view of a
// terminated step's outcome; entries only ever exist for steps that have
// already reached completed, failed, or stopped, so ready-set computation
// never re-reads the Execution Record Store mid-replay.
type stepStatus int

const (
	stepCompleted stepStatus = iota + 1
	stepFailed
	stepStopped
)
