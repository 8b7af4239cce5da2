// Package engine abstracts durable workflow execution so the Scheduler
// (internal/scheduler) can run a Pipeline Run as a workflow and each Step as
// an activity without depending on a specific backend. Temporal is the
// production adapter (internal/engine/temporal); internal/engine/inmem
// backs tests and single-process deployments.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

type (
	// Engine registers workflow and activity definitions and starts
	// workflow executions. A Pipeline Run is one workflow; each Step is one
	// activity invoked from that workflow.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds the Scheduler's batch-loop handler to a
	// logical name and default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the Scheduler's pipeline-run entry point. It must be
	// deterministic: given the same input and the same sequence of activity
	// results, it must always make the same scheduling decisions, since
	// Temporal replays it from history after a worker restart.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations inside a running workflow.
	// Direct I/O, randomness, or wall-clock reads inside a WorkflowFunc
	// break replay determinism; Step invocations belong in activities
	// scheduled via ExecuteActivity/ExecuteActivityAsync instead.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel exposes abortOrchestration(chatId) as a
		// workflow signal rather than a side-table flag, so cancellation is
		// part of deterministic replay history.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns replay-safe workflow time; never time.Now() directly
		// inside a WorkflowFunc.
		Now() time.Time
	}

	// Future is a pending Step activity result, used for the Scheduler's
	// batch fan-out.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers one Step-executing activity.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc runs one Step: it may perform I/O (Gateway calls, Tool
	// Sandbox writes, Ledger/Store updates).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for a Step
	// activity. Scheduler-level retry happens above this layer; RetryPolicy here
	// is the engine's own transport-level retry, left at the engine default
	// unless a caller has a specific reason to override it.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch one Pipeline Run.
	WorkflowStartRequest struct {
		ID        string
		Workflow  string
		TaskQueue string
		Input     any
		Memo      map[string]any
	}

	// ActivityRequest schedules one Step invocation from within a workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets the Scheduler's caller wait for, signal, or cancel
	// a running Pipeline Run.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy mirrors Temporal's retry shape; zero-valued fields mean
	// "use the engine default".
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel receives values sent via WorkflowHandle.Signal.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// ErrWorkflowNotFound is returned when a workflow name or run ID is unknown
// to the Engine.
var ErrWorkflowNotFound = errors.New("engine: workflow not found")
