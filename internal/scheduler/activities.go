package scheduler

import (
	"context"
	"fmt"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/plan"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/sandbox"
	"github.com/anthonybaldwin/crewforge/internal/store"
)

// Activity names registered with the engine.Engine.
const (
	RunStepActivity            = "crewforge.run_step"
	CheckCostLimitActivity     = "crewforge.check_cost_limit"
	RecordStepTerminalActivity = "crewforge.record_step_terminal"
)

type (
	// AgentInvoker is the subset of *runner.Runner the run_step activity
	// depends on.
	AgentInvoker interface {
		Invoke(ctx context.Context, in runner.Input) (runner.Output, error)
	}

	// CostLimiter is the subset of *budget.Ledger the check_cost_limit
	// activity depends on.
	CostLimiter interface {
		CheckCostLimit(ctx context.Context, chatID string, limit float64) (budget.Gate, error)
	}

	// StepRequest is run_step's input: everything one Step invocation needs,
	// already filtered to the upstream outputs its phase allows.
	StepRequest struct {
		PipelineRunID string
		ChatID        string
		ProjectID     string
		UserMessage   string

		Step    plan.Step
		Attempt int

		UpstreamOutputs map[string]string
		Context         map[string]any
		ChatHistory     []runner.HistoryMessage

		Credentials providers.Credentials
		Override    *agent.Override
	}

	// StepResult is run_step's output, fed back into the Scheduler's
	// workflow-local output/manifest state.
	StepResult struct {
		Output       string
		FilesWritten []string
	}

	// CostCheckRequest is check_cost_limit's input.
	CostCheckRequest struct {
		ChatID string
		Limit  float64
	}

	// TerminalRequest is record_step_terminal's input: the Scheduler calls
	// this only once it has decided a step's outcome is final (fatal,
	// cancelled, or retries exhausted), since an intermediate retriable
	// failure must never mark the Store row terminal ahead of the retry
	// that is still coming.
	TerminalRequest struct {
		PipelineRunID string
		StepID        string
		Stopped       bool
		ErrMsg        string
	}

	// Executor implements the activity-side handlers the Scheduler's
	// workflow dispatches by name; it is the only part of this package
	// allowed to touch the Agent Runner, Store, Ledger, or Tool Sandbox
	// directly.
	Executor struct {
		Agents    AgentInvoker
		Store     store.Store
		Cost      CostLimiter
		Sandboxes ProjectSandboxes
	}

	// ProjectSandboxes resolves the *sandbox.Sandbox bound to one project,
	// so run_step never constructs one itself; one pipeline run's steps all
	// share the same sandbox instance.
	ProjectSandboxes interface {
		ForProject(projectID string) (*sandbox.Sandbox, error)
	}
)

// stepRowID namespaces a Step's Execution Record Store row by pipeline run,
// since the same DAG Step ID recurs across re-dispatched retries and, in
// remediation/re-review phases, across synthetic step ids scoped to that
// run only.
func stepRowID(runID, stepID string) string {
	return runID + ":" + stepID
}

// RunStep runs one DAG Step to completion: Store bookkeeping, Agent Runner
// invocation, and the terminal Store write that follows. It is registered as the "crewforge.run_step" ActivityFunc.
func (e *Executor) RunStep(ctx context.Context, raw any) (any, error) {
	var req StepRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, fmt.Errorf("scheduler: decode run_step input: %w", err)
	}

	id := stepRowID(req.PipelineRunID, req.Step.ID)
	if req.Attempt <= 1 {
		if err := e.Store.RecordStepStart(ctx, store.StepRecord{
			ID: id, PipelineRunID: req.PipelineRunID, ChatID: req.ChatID,
			AgentKey: string(req.Step.Agent), Attempt: 1,
		}); err != nil {
			return nil, fmt.Errorf("scheduler: record step start: %w", err)
		}
	} else if err := e.Store.RecordStepRetry(ctx, id, req.Attempt); err != nil {
		return nil, fmt.Errorf("scheduler: record step retry: %w", err)
	}

	in := runner.Input{
		StepID:          id,
		ChatID:          req.ChatID,
		ProjectID:       req.ProjectID,
		AgentKey:        req.Step.Agent,
		InstanceID:      req.Step.InstanceID,
		Override:        req.Override,
		UserMessage:     req.Step.UserMessage,
		ChatHistory:     req.ChatHistory,
		Context:         req.Context,
		UpstreamOutputs: req.UpstreamOutputs,
		Credentials:     req.Credentials,
	}
	if e.Sandboxes != nil {
		sb, serr := e.Sandboxes.ForProject(req.ProjectID)
		if serr != nil {
			return nil, fmt.Errorf("scheduler: resolve sandbox for project %s: %w", req.ProjectID, serr)
		}
		in.Executor = sb
		in.Files = sb
	}

	out, err := e.Agents.Invoke(ctx, in)
	if err != nil {
		// The Store row is left running/retrying: whether this failure is
		// terminal depends on retry policy the Scheduler alone knows, so
		// the terminal write happens there via RecordStepTerminal once the
		// outcome is decided.
		return nil, err
	}

	if cerr := e.Store.RecordStepComplete(ctx, id, out.Content); cerr != nil {
		return nil, fmt.Errorf("scheduler: record step complete: %w", cerr)
	}
	return StepResult{Output: out.Content, FilesWritten: out.FilesWritten}, nil
}

// RecordStepTerminal records a step's final failed/stopped outcome. The
// Scheduler calls this only for outcomes it has classified as final, since
// RunStep itself cannot tell a retriable failure from an exhausted one.
func (e *Executor) RecordStepTerminal(ctx context.Context, raw any) (any, error) {
	var req TerminalRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, fmt.Errorf("scheduler: decode record_step_terminal input: %w", err)
	}
	id := stepRowID(req.PipelineRunID, req.StepID)
	if req.Stopped {
		if err := e.Store.RecordStepStopped(ctx, id); err != nil {
			return nil, fmt.Errorf("scheduler: record step stopped: %w", err)
		}
		return nil, nil
	}
	if err := e.Store.RecordStepFailed(ctx, id, req.ErrMsg); err != nil {
		return nil, fmt.Errorf("scheduler: record step failed: %w", err)
	}
	return nil, nil
}

// CheckCostLimit wraps Ledger.CheckCostLimit as an activity, since budget
// reads are I/O and the Scheduler's workflow body must never call the
// Ledger directly.
func (e *Executor) CheckCostLimit(ctx context.Context, raw any) (any, error) {
	var req CostCheckRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, fmt.Errorf("scheduler: decode check_cost_limit input: %w", err)
	}
	gate, err := e.Cost.CheckCostLimit(ctx, req.ChatID, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: check cost limit: %w", err)
	}
	return gate, nil
}
