package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/store"
)

func TestPipelineRunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.StartPipelineRun(ctx, store.PipelineRun{ID: "run-1", ChatID: "chat-1"}))

	run, ok, err := s.GetPipelineRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.StatusRunning, run.Status)
	require.False(t, run.StartedAt.IsZero())

	require.NoError(t, s.CompletePipelineRun(ctx, "run-1", store.StatusCompleted))
	run, _, _ = s.GetPipelineRun(ctx, "run-1")
	require.Equal(t, store.StatusCompleted, run.Status)
	require.False(t, run.CompletedAt.IsZero())

	_, ok, err = s.GetPipelineRun(ctx, "no-such-run")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStepLifecycleAndTerminalGuard(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RecordStepStart(ctx, store.StepRecord{ID: "run-1:research", PipelineRunID: "run-1", ChatID: "chat-1", AgentKey: "research"}))
	require.NoError(t, s.RecordStepRetry(ctx, "run-1:research", 2))
	require.NoError(t, s.RecordStepComplete(ctx, "run-1:research", "output"))

	steps, err := s.StepsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, store.StatusCompleted, steps[0].Status)
	require.Equal(t, "output", steps[0].Output)

	err = s.RecordStepRetry(ctx, "run-1:research", 3)
	require.True(t, errors.Is(err, store.ErrTerminal))
}

func TestRecordStepFailedAndStopped(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RecordStepStart(ctx, store.StepRecord{ID: "run-2:architect", PipelineRunID: "run-2", ChatID: "chat-2"}))
	require.NoError(t, s.RecordStepFailed(ctx, "run-2:architect", "boom"))

	steps, err := s.StepsForRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, steps[0].Status)
	require.Equal(t, "boom", steps[0].Error)

	require.NoError(t, s.RecordStepStart(ctx, store.StepRecord{ID: "run-2:qa", PipelineRunID: "run-2", ChatID: "chat-2"}))
	require.NoError(t, s.RecordStepStopped(ctx, "run-2:qa"))
	steps, _ = s.StepsForRun(ctx, "run-2")
	require.Equal(t, store.StatusStopped, steps[1].Status)
}

func TestMissingStepTransitionsFail(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.RecordStepComplete(ctx, "does-not-exist", "x")
	require.Error(t, err)
	require.False(t, errors.Is(err, store.ErrTerminal))
}

func TestCleanupStaleExecutionsMarksRunningAndRetryingFailed(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.StartPipelineRun(ctx, store.PipelineRun{ID: "run-3", ChatID: "chat-3"}))
	require.NoError(t, s.RecordStepStart(ctx, store.StepRecord{ID: "run-3:architect", PipelineRunID: "run-3", ChatID: "chat-3"}))
	require.NoError(t, s.RecordStepStart(ctx, store.StepRecord{ID: "run-3:research", PipelineRunID: "run-3", ChatID: "chat-3"}))
	require.NoError(t, s.RecordStepRetry(ctx, "run-3:research", 1))

	chatIDs, err := s.CleanupStaleExecutions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"chat-3"}, chatIDs)

	run, _, _ := s.GetPipelineRun(ctx, "run-3")
	require.Equal(t, store.StatusFailed, run.Status)

	steps, _ := s.StepsForRun(ctx, "run-3")
	for _, st := range steps {
		require.Equal(t, store.StatusFailed, st.Status)
		require.Equal(t, store.StaleExecutionReason, st.Error)
	}

	// A second cleanup finds nothing left running/retrying.
	chatIDs, err = s.CleanupStaleExecutions(ctx)
	require.NoError(t, err)
	require.Empty(t, chatIDs)
}

func TestFindInterruptedPipelineRunPicksLatestFailed(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartPipelineRun(ctx, store.PipelineRun{ID: "run-a", ChatID: "chat-4", StartedAt: base}))
	require.NoError(t, s.CompletePipelineRun(ctx, "run-a", store.StatusFailed))
	require.NoError(t, s.StartPipelineRun(ctx, store.PipelineRun{ID: "run-b", ChatID: "chat-4", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.CompletePipelineRun(ctx, "run-b", store.StatusFailed))

	run, ok, err := s.FindInterruptedPipelineRun(ctx, "chat-4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-b", run.ID)

	_, ok, err = s.FindInterruptedPipelineRun(ctx, "no-such-chat")
	require.NoError(t, err)
	require.False(t, ok)
}
