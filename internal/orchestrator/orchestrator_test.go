package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/bus"
	"github.com/anthonybaldwin/crewforge/internal/engine/inmem"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/scheduler"
	"github.com/anthonybaldwin/crewforge/internal/store"
	storeinmem "github.com/anthonybaldwin/crewforge/internal/store/inmem"
)

type fakeVersioner struct{}

func (fakeVersioner) SaveVersion(context.Context, string, string) error { return nil }

type fakeCost struct{}

func (fakeCost) CheckCostLimit(context.Context, string, float64) (budget.Gate, error) {
	return budget.Gate{Allowed: true}, nil
}

// fakeAgents always returns a passing reviewer/agent output, so every build
// DAG this package's tests run against completes without remediation.
type fakeAgents struct{}

func (fakeAgents) Invoke(_ context.Context, in runner.Input) (runner.Output, error) {
	switch in.AgentKey {
	case agent.CodeReview, agent.Security, agent.QA:
		return runner.Output{Content: `{"status":"pass"}`}, nil
	case agent.Research:
		return runner.Output{Content: `{"features":[]}`}, nil
	default:
		return runner.Output{Content: "ok:" + string(in.AgentKey)}, nil
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	st := storeinmem.New()
	b := bus.New()
	sandboxes := NewProjectSandboxes(t.TempDir(), fakeVersioner{}, b)
	exec := &scheduler.Executor{Agents: fakeAgents{}, Store: st, Cost: fakeCost{}, Sandboxes: sandboxes}
	eng := inmem.New()
	o, err := New(context.Background(), Deps{
		Engine: eng, Executor: exec, Store: st, Bus: b, Agents: fakeAgents{}, FanOut: 2,
	})
	require.NoError(t, err)
	return o
}

func waitUntilNotRunning(t *testing.T, o *Orchestrator, chatID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !o.IsOrchestrationRunning(chatID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("chat %s still running after deadline", chatID)
}

func TestRunOrchestrationCompletesForNewProject(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	err := o.RunOrchestration(ctx, RunRequest{
		ChatID: "chat-1", ProjectID: "proj-1", UserMessage: "build me a todo app",
	})
	require.NoError(t, err)
	require.True(t, o.IsOrchestrationRunning("chat-1"))

	waitUntilNotRunning(t, o, "chat-1")
}

func TestRunOrchestrationRejectsConcurrentRunsForSameChat(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.RunOrchestration(ctx, RunRequest{ChatID: "chat-2", ProjectID: "proj-2", UserMessage: "build x"}))
	err := o.RunOrchestration(ctx, RunRequest{ChatID: "chat-2", ProjectID: "proj-2", UserMessage: "build y"})
	require.Error(t, err)

	waitUntilNotRunning(t, o, "chat-2")
}

func TestAbortOrchestrationIsNoOpWithoutARun(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.AbortOrchestration(context.Background(), "no-such-chat"))
}

func TestRecoverOnBootPublishesSystemMessagePerStaleChat(t *testing.T) {
	st := storeinmem.New()
	b := bus.New()
	sub := b.Subscribe()
	defer sub.Close()

	require.NoError(t, st.StartPipelineRun(context.Background(), store.PipelineRun{ID: "run-x", ChatID: "chat-x"}))
	require.NoError(t, st.RecordStepStart(context.Background(), store.StepRecord{ID: "run-x:architect", PipelineRunID: "run-x", ChatID: "chat-x", AgentKey: "architect"}))

	sandboxes := NewProjectSandboxes(t.TempDir(), fakeVersioner{}, b)
	exec := &scheduler.Executor{Agents: fakeAgents{}, Store: st, Cost: fakeCost{}, Sandboxes: sandboxes}
	o, err := New(context.Background(), Deps{Engine: inmem.New(), Executor: exec, Store: st, Bus: b, Agents: fakeAgents{}})
	require.NoError(t, err)

	require.NoError(t, o.RecoverOnBoot(context.Background()))

	select {
	case ev := <-sub.Recv():
		require.Equal(t, bus.EventChatMessage, ev.Kind)
		require.Equal(t, "chat-x", ev.ChatMessage.ChatID)
		require.Equal(t, store.StaleExecutionReason, ev.ChatMessage.Content)
	case <-time.After(time.Second):
		t.Fatal("expected a system chat_message event")
	}
}

func TestBareStepID(t *testing.T) {
	require.Equal(t, "frontend-dev", bareStepID("run-7:frontend-dev", "run-7"))
}
