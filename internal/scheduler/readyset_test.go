package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/plan"
)

func TestReadySetReturnsRootsFirst(t *testing.T) {
	dag := plan.DAG{Steps: []plan.Step{
		{ID: "architect", Agent: agent.Architect},
		{ID: "frontend-dev", Agent: agent.FrontendDev, DependsOn: []string{"architect"}},
	}}
	ready, malformed := readySet(dag, map[string]stepStatus{})
	require.False(t, malformed)
	require.Len(t, ready, 1)
	require.Equal(t, "architect", ready[0].ID)
}

func TestReadySetUnblocksOnceDependencyCompletes(t *testing.T) {
	dag := plan.DAG{Steps: []plan.Step{
		{ID: "architect", Agent: agent.Architect},
		{ID: "frontend-dev", Agent: agent.FrontendDev, DependsOn: []string{"architect"}},
	}}
	status := map[string]stepStatus{"architect": stepCompleted}
	ready, malformed := readySet(dag, status)
	require.False(t, malformed)
	require.Len(t, ready, 1)
	require.Equal(t, "frontend-dev", ready[0].ID)
}

func TestReadySetEmptyWhenAllTerminal(t *testing.T) {
	dag := plan.DAG{Steps: []plan.Step{{ID: "architect", Agent: agent.Architect}}}
	ready, malformed := readySet(dag, map[string]stepStatus{"architect": stepCompleted})
	require.False(t, malformed)
	require.Empty(t, ready)
}

func TestReadySetMalformedOnDanglingDependency(t *testing.T) {
	dag := plan.DAG{Steps: []plan.Step{
		{ID: "frontend-dev", Agent: agent.FrontendDev, DependsOn: []string{"missing-step"}},
	}}
	_, malformed := readySet(dag, map[string]stepStatus{})
	require.True(t, malformed)
}

func TestReadySetSkipsFailedAndStoppedSteps(t *testing.T) {
	dag := plan.DAG{Steps: []plan.Step{
		{ID: "code-review", Agent: agent.CodeReview},
		{ID: "security", Agent: agent.Security},
	}}
	status := map[string]stepStatus{"code-review": stepFailed, "security": stepStopped}
	ready, malformed := readySet(dag, status)
	require.False(t, malformed)
	require.Empty(t, ready)
}
