package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/engine"
)

func TestStartWorkflowRunsHandlerAndReturnsResult(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "echo",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			return input, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{Workflow: "echo", ID: "run-1", Input: "hello"})
	require.NoError(t, err)

	var result string
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, "hello", result)
}

func TestStartWorkflowUnknownNameErrors(t *testing.T) {
	e := New()
	_, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{Workflow: "missing", ID: "run-1"})
	require.True(t, errors.Is(err, engine.ErrWorkflowNotFound))
}

func TestRegisterWorkflowRejectsDuplicateName(t *testing.T) {
	e := New()
	ctx := context.Background()
	def := engine.WorkflowDefinition{Name: "dup", Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil }}
	require.NoError(t, e.RegisterWorkflow(ctx, def))
	require.Error(t, e.RegisterWorkflow(ctx, def))
}

func TestExecuteActivityRunsRegisteredHandler(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "doubler",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			var out int
			err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: "double", Input: input.(int)}, &out)
			return out, err
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{Workflow: "doubler", ID: "run-2", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, 42, result)
}

func TestSignalDeliversPayloadToWorkflowSignalChannel(t *testing.T) {
	e := New()
	ctx := context.Background()
	received := make(chan string, 1)

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "waits-for-signal",
		Handler: func(wctx engine.WorkflowContext, _ any) (any, error) {
			var payload string
			if err := wctx.SignalChannel("go").Receive(wctx.Context(), &payload); err != nil {
				return nil, err
			}
			received <- payload
			return nil, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{Workflow: "waits-for-signal", ID: "run-3"})
	require.NoError(t, err)

	require.NoError(t, h.Signal(ctx, "go", "proceed"))

	select {
	case payload := <-received:
		require.Equal(t, "proceed", payload)
	case <-time.After(time.Second):
		t.Fatal("signal was not delivered")
	}
	require.NoError(t, h.Wait(ctx, nil))
}
