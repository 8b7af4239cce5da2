package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/engine"
	"github.com/anthonybaldwin/crewforge/internal/engine/inmem"
	"github.com/anthonybaldwin/crewforge/internal/gateway"
	"github.com/anthonybaldwin/crewforge/internal/plan"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/store"
	storeinmem "github.com/anthonybaldwin/crewforge/internal/store/inmem"
)

type fakeCost struct{}

func (fakeCost) CheckCostLimit(context.Context, string, float64) (budget.Gate, error) {
	return budget.Gate{Allowed: true}, nil
}

// blockingCost denies every check, so a scheduler wired to it must stop
// before dispatching any step at all.
type blockingCost struct{}

func (blockingCost) CheckCostLimit(context.Context, string, float64) (budget.Gate, error) {
	return budget.Gate{Allowed: false, Warning: "budget exceeded"}, nil
}

type stepResponse func(call int) (runner.Output, error)

type fakeInvoker struct {
	mu        sync.Mutex
	calls     map[agent.Ident]int
	responses map[agent.Ident]stepResponse
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{calls: make(map[agent.Ident]int), responses: make(map[agent.Ident]stepResponse)}
}

func (f *fakeInvoker) Invoke(_ context.Context, in runner.Input) (runner.Output, error) {
	f.mu.Lock()
	f.calls[in.AgentKey]++
	n := f.calls[in.AgentKey]
	fn := f.responses[in.AgentKey]
	f.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return runner.Output{Content: "ok:" + string(in.AgentKey)}, nil
}

func (f *fakeInvoker) callCount(id agent.Ident) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func buildDAG() plan.DAG {
	return plan.DAG{Steps: []plan.Step{
		{ID: "architect", Agent: agent.Architect},
		{ID: "frontend-dev", Agent: agent.FrontendDev, DependsOn: []string{"architect"}},
		{ID: "code-review", Agent: agent.CodeReview, DependsOn: []string{"frontend-dev"}},
		{ID: "security", Agent: agent.Security, DependsOn: []string{"frontend-dev"}},
		{ID: "qa", Agent: agent.QA, DependsOn: []string{"frontend-dev"}},
	}}
}

func newTestEngine(t *testing.T, invoker *fakeInvoker) (engine.Engine, *storeinmem.Store) {
	t.Helper()
	return newTestEngineWithCost(t, invoker, fakeCost{})
}

func newTestEngineWithCost(t *testing.T, invoker *fakeInvoker, cost CostLimiter) (engine.Engine, *storeinmem.Store) {
	t.Helper()
	st := storeinmem.New()
	exec := &Executor{Agents: invoker, Store: st, Cost: cost}
	eng := inmem.New()
	ctx := context.Background()
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "run", Handler: New(2).Run}))
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: RunStepActivity, Handler: exec.RunStep}))
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: CheckCostLimitActivity, Handler: exec.CheckCostLimit}))
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: RecordStepTerminalActivity, Handler: exec.RecordStepTerminal}))
	return eng, st
}

func TestSchedulerRunsDAGToCompletion(t *testing.T) {
	invoker := newFakeInvoker()
	for _, reviewer := range []agent.Ident{agent.CodeReview, agent.Security, agent.QA} {
		invoker.responses[reviewer] = func(int) (runner.Output, error) {
			return runner.Output{Content: `{"status":"pass"}`}, nil
		}
	}
	eng, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: "run-1", Workflow: "run",
		Input: RunInput{DAG: buildDAG(), PipelineRun: pipelineRun("run-1")},
	})
	require.NoError(t, err)

	var out RunOutput
	require.NoError(t, handle.Wait(ctx, &out))
	require.Equal(t, "completed", out.Status)
	require.False(t, out.Findings.HasIssues)
	require.Equal(t, 0, out.RemediationCycles)
	require.Equal(t, "ok:orchestrator:summary", out.Summary)
	require.Equal(t, "ok:architect", out.StepOutputs["architect"])
}

func TestSchedulerHaltsOnFatalError(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.Architect] = func(int) (runner.Output, error) {
		return runner.Output{}, gateway.ErrProviderUnavailable
	}
	eng, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: "run-2", Workflow: "run",
		Input: RunInput{DAG: buildDAG(), PipelineRun: pipelineRun("run-2")},
	})
	require.NoError(t, err)

	var out RunOutput
	waitErr := handle.Wait(ctx, &out)
	require.Error(t, waitErr)
	require.Equal(t, "failed", out.Status)
	require.Equal(t, string(agent.Architect), out.HaltedAgent)
	require.Equal(t, 1, invoker.callCount(agent.Architect))
}

func TestSchedulerExhaustsRetriesThenHalts(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.FrontendDev] = func(int) (runner.Output, error) {
		return runner.Output{}, gateway.ErrAgentAborted
	}
	eng, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: "run-3", Workflow: "run",
		Input: RunInput{DAG: buildDAG(), PipelineRun: pipelineRun("run-3")},
	})
	require.NoError(t, err)

	var out RunOutput
	require.Error(t, handle.Wait(ctx, &out))
	require.Equal(t, "failed", out.Status)
	require.Equal(t, MaxRetries+1, invoker.callCount(agent.FrontendDev))
}

func TestSchedulerRunsRemediationWhenReviewersFail(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.responses[agent.CodeReview] = func(n int) (runner.Output, error) {
		if n == 1 {
			return runner.Output{Content: "[fail] missing tests"}, nil
		}
		return runner.Output{Content: `{"status":"pass"}`}, nil
	}
	invoker.responses[agent.Security] = func(int) (runner.Output, error) {
		return runner.Output{Content: `{"status":"pass"}`}, nil
	}
	invoker.responses[agent.QA] = func(int) (runner.Output, error) {
		return runner.Output{Content: `{"status":"pass"}`}, nil
	}
	eng, _ := newTestEngine(t, invoker)
	ctx := context.Background()

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: "run-4", Workflow: "run",
		Input: RunInput{DAG: buildDAG(), PipelineRun: pipelineRun("run-4")},
	})
	require.NoError(t, err)

	var out RunOutput
	require.NoError(t, handle.Wait(ctx, &out))
	require.Equal(t, "completed", out.Status)
	require.Equal(t, 1, out.RemediationCycles)
	require.False(t, out.Findings.HasIssues)
	require.Equal(t, 2, invoker.callCount(agent.FrontendDev))
	require.Equal(t, 2, invoker.callCount(agent.CodeReview))
}

func TestSchedulerStopsBeforeFirstStepWhenCostLimitExceeded(t *testing.T) {
	invoker := newFakeInvoker()
	eng, _ := newTestEngineWithCost(t, invoker, blockingCost{})
	ctx := context.Background()

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: "run-5", Workflow: "run",
		Input: RunInput{DAG: buildDAG(), PipelineRun: pipelineRun("run-5"), CostLimit: 1},
	})
	require.NoError(t, err)

	var out RunOutput
	require.NoError(t, handle.Wait(ctx, &out))
	require.Equal(t, "stopped", out.Status)
	require.Equal(t, 0, invoker.callCount(agent.Architect))
}

func pipelineRun(id string) store.PipelineRun {
	return store.PipelineRun{ID: id, ChatID: "chat-" + id}
}
