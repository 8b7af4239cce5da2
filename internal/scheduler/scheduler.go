// Package scheduler implements the Scheduler: it walks a
// Plan Builder DAG to completion, dispatching each ready step through the
// Agent Runner via the durable Workflow Engine, retrying transient
// failures, halting on fatal ones, honoring cancellation, and handing off
// to the Review Detector and Remediation Controller once every step
// terminates.
package scheduler

import (
	"context"
	"fmt"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/engine"
	"github.com/anthonybaldwin/crewforge/internal/plan"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/remediation"
	"github.com/anthonybaldwin/crewforge/internal/review"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/store"
)

// MaxRetries bounds retriable-failure re-dispatch per step.
const MaxRetries = 3

// DefaultFanOut bounds how many ready steps run concurrently absent a
// per-pipeline override.
const DefaultFanOut = 4

// AbortSignal is the workflow signal name abortOrchestration sends.
const AbortSignal = "abort"

type (
	// RunInput is the Scheduler's workflow input for one Pipeline Run.
	RunInput struct {
		DAG         plan.DAG
		PipelineRun store.PipelineRun
		ProjectID   string
		Context     map[string]any
		ChatHistory []runner.HistoryMessage
		Credentials providers.Credentials
		CostLimit   float64

		// SeedCompleted and SeedOutputs let resumeOrchestration resume a
		// Pipeline Run from its Execution Record Store history instead of
		// re-running already-completed steps.
		SeedCompleted []string
		SeedOutputs   map[string]string
	}

	// RunOutput is the Scheduler's workflow result.
	RunOutput struct {
		Status            string // "completed" | "failed" | "stopped"
		HaltedAgent       string
		HaltReason        string
		StepOutputs       map[string]string
		Findings          review.Findings
		RemediationCycles int
		Summary           string
	}

	haltInfo struct {
		agent   string
		reason  string
		stopped bool
	}

	// Scheduler is the workflow-side DAG walker, registered as an
	// engine.WorkflowFunc. It never touches the Agent Runner, Store, or
	// Ledger directly — every effect goes through a named activity, so Run
	// stays replay-deterministic.
	Scheduler struct {
		FanOut int
	}
)

// New builds a Scheduler with the given fan-out (0 selects DefaultFanOut).
func New(fanOut int) *Scheduler {
	return &Scheduler{FanOut: fanOut}
}

// Run is the Scheduler's engine.WorkflowFunc: it loops ready-set
// computation and batch dispatch until every step is terminal, then runs
// the review/remediation/summary phases.
func (s *Scheduler) Run(wf engine.WorkflowContext, raw any) (any, error) {
	var in RunInput
	if err := decodeInto(raw, &in); err != nil {
		return nil, fmt.Errorf("scheduler: decode run input: %w", err)
	}

	dag := in.DAG
	status := make(map[string]stepStatus, len(dag.Steps))
	outputs := make(map[string]string, len(dag.Steps))
	var manifest []manifestEntry

	for _, id := range in.SeedCompleted {
		status[id] = stepCompleted
	}
	for k, v := range in.SeedOutputs {
		outputs[k] = v
	}

	out := RunOutput{StepOutputs: outputs}
	frontendExpanded := false

	if gate, err := s.checkCost(wf, in); err != nil {
		return out, fmt.Errorf("scheduler: check cost limit before first step: %w", err)
	} else if !gate.Allowed {
		out.Status = "stopped"
		out.HaltReason = "cost limit reached before pipeline start"
		return out, nil
	}

	abort := &abortState{}

	for {
		if abort.check(wf) {
			out.Status = "stopped"
			return out, nil
		}

		if !frontendExpanded && status["architect"] == stepCompleted {
			frontendExpanded = true
			if _, ok := dag.StepByID("frontend-dev"); ok {
				expanded, eerr := plan.ExpandFrontendSplit(dag, outputs["architect"])
				if eerr != nil {
					out.Status = "failed"
					out.HaltReason = fmt.Sprintf("expand frontend split: %v", eerr)
					return out, fmt.Errorf("scheduler: expand frontend split: %w", eerr)
				}
				dag = expanded
			}
		}

		ready, malformed := readySet(dag, status)
		if malformed {
			out.Status = "failed"
			out.HaltReason = "plan malformed: no ready steps remain with steps still pending"
			return out, fmt.Errorf("scheduler: plan malformed")
		}
		if len(ready) == 0 {
			break
		}

		halt, err := s.dispatchBatch(wf, in, ready, status, outputs, &manifest, abort)
		if err != nil {
			return out, err
		}
		if halt != nil {
			if halt.stopped {
				out.Status = "stopped"
				out.HaltReason = halt.reason
				return out, nil
			}
			out.Status = "failed"
			out.HaltedAgent = halt.agent
			out.HaltReason = halt.reason
			return out, fmt.Errorf("scheduler: step %s: %s", halt.agent, halt.reason)
		}
	}

	findings := review.Evaluate(reviewerOutputs(outputs))
	out.Findings = findings

	if findings.HasIssues {
		result, err := s.runRemediation(wf, in, outputs, findings)
		if err != nil {
			return out, fmt.Errorf("scheduler: remediation: %w", err)
		}
		out.Findings = result.FinalFindings
		out.RemediationCycles = len(result.Cycles)
		if result.Paused {
			out.Status = "stopped"
			out.HaltReason = "remediation paused: cost limit reached"
			return out, nil
		}
	}

	summary, err := s.runSummary(wf, in, outputs, out.Findings, out.RemediationCycles)
	if err != nil {
		return out, fmt.Errorf("scheduler: summary step: %w", err)
	}
	out.Summary = summary
	out.Status = "completed"
	return out, nil
}

// reviewerOutputs narrows outputs to the three reviewer step ids, since
// outputs also carries architect/dev/styling entries review.Evaluate never
// needs to see.
func reviewerOutputs(outputs map[string]string) map[string]string {
	res := make(map[string]string, 3)
	for _, id := range []agent.Ident{agent.CodeReview, agent.Security, agent.QA} {
		key := string(id)
		if v, ok := outputs[key]; ok {
			res[key] = v
		}
	}
	return res
}

// checkCost runs the check_cost_limit activity for in's chat, the same way
// runRemediation gates each remediation cycle.
func (s *Scheduler) checkCost(wf engine.WorkflowContext, in RunInput) (budget.Gate, error) {
	checker := &wfCostChecker{wf: wf}
	return checker.CheckCostLimit(wf.Context(), in.PipelineRun.ChatID, in.CostLimit)
}

// abortState remembers an abortOrchestration signal for the rest of one
// Run call. SignalChannel.ReceiveAsync drains the channel, so a second
// call without caching the first result would see nothing and miss the
// abort; abortState is threaded through dispatchBatch/resolveStep instead
// of living on Scheduler, since one Scheduler value serves every
// concurrently running Pipeline Run.
type abortState struct {
	seen bool
}

func (a *abortState) check(wf engine.WorkflowContext) bool {
	if a.seen {
		return true
	}
	var payload any
	if wf.SignalChannel(AbortSignal).ReceiveAsync(&payload) {
		a.seen = true
	}
	return a.seen
}

type batchItem struct {
	step    plan.Step
	future  engine.Future
	attempt int
}

// dispatchBatch runs ready in waves bounded by FanOut, resolving every
// step (including its retries) before the next wave starts, and stops at
// the first fatal outcome.
func (s *Scheduler) dispatchBatch(wf engine.WorkflowContext, in RunInput, ready []plan.Step, status map[string]stepStatus, outputs map[string]string, manifest *[]manifestEntry, abort *abortState) (*haltInfo, error) {
	fanOut := s.FanOut
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	for start := 0; start < len(ready); start += fanOut {
		if gate, err := s.checkCost(wf, in); err != nil {
			return nil, fmt.Errorf("scheduler: check cost limit before wave: %w", err)
		} else if !gate.Allowed {
			return &haltInfo{reason: "cost limit reached between steps", stopped: true}, nil
		}

		end := start + fanOut
		if end > len(ready) {
			end = len(ready)
		}
		wave := ready[start:end]

		items := make([]*batchItem, len(wave))
		for i, step := range wave {
			req := s.buildStepRequest(in, step, outputs, *manifest, 1)
			fut, err := wf.ExecuteActivityAsync(wf.Context(), engine.ActivityRequest{Name: RunStepActivity, Input: req})
			if err != nil {
				return nil, fmt.Errorf("scheduler: dispatch step %s: %w", step.ID, err)
			}
			items[i] = &batchItem{step: step, future: fut, attempt: 1}
		}

		for _, item := range items {
			halt, err := s.resolveStep(wf, in, item, status, outputs, manifest, abort)
			if err != nil {
				return nil, err
			}
			if halt != nil {
				return halt, nil
			}
		}
	}
	return nil, nil
}

// resolveStep awaits one step's future, re-dispatching on a retriable
// failure up to MaxRetries, and reports a fatal outcome as haltInfo rather
// than a Go error so the caller can distinguish "step failed" from
// "activity plumbing broke".
func (s *Scheduler) resolveStep(wf engine.WorkflowContext, in RunInput, item *batchItem, status map[string]stepStatus, outputs map[string]string, manifest *[]manifestEntry, abort *abortState) (*haltInfo, error) {
	for {
		var res StepResult
		err := item.future.Get(wf.Context(), &res)
		if err == nil {
			status[item.step.ID] = stepCompleted
			outputs[item.step.ID] = res.Output
			for _, p := range res.FilesWritten {
				*manifest = append(*manifest, manifestEntry{Path: p, Agent: string(item.step.Agent)})
			}
			return nil, nil
		}

		switch Classify(err) {
		case ClassCancelled:
			status[item.step.ID] = stepStopped
			if terr := s.recordTerminal(wf, in, item.step.ID, true, ""); terr != nil {
				return nil, terr
			}
			return nil, nil
		case ClassFatal:
			status[item.step.ID] = stepFailed
			if terr := s.recordTerminal(wf, in, item.step.ID, false, err.Error()); terr != nil {
				return nil, terr
			}
			return &haltInfo{agent: string(item.step.Agent), reason: err.Error()}, nil
		default:
			if item.attempt > MaxRetries || abort.check(wf) {
				status[item.step.ID] = stepFailed
				if terr := s.recordTerminal(wf, in, item.step.ID, false, err.Error()); terr != nil {
					return nil, terr
				}
				return &haltInfo{agent: string(item.step.Agent), reason: fmt.Sprintf("retries exhausted: %v", err)}, nil
			}
			item.attempt++
			req := s.buildStepRequest(in, item.step, outputs, *manifest, item.attempt)
			fut, derr := wf.ExecuteActivityAsync(wf.Context(), engine.ActivityRequest{Name: RunStepActivity, Input: req})
			if derr != nil {
				return nil, fmt.Errorf("scheduler: redispatch step %s attempt %d: %w", item.step.ID, item.attempt, derr)
			}
			item.future = fut
		}
	}
}

// recordTerminal writes a step's final failed/stopped outcome via the
// record_step_terminal activity, once resolveStep has decided the step will
// not be retried.
func (s *Scheduler) recordTerminal(wf engine.WorkflowContext, in RunInput, stepID string, stopped bool, errMsg string) error {
	req := TerminalRequest{PipelineRunID: in.PipelineRun.ID, StepID: stepID, Stopped: stopped, ErrMsg: errMsg}
	if err := wf.ExecuteActivity(wf.Context(), engine.ActivityRequest{Name: RecordStepTerminalActivity, Input: req}, nil); err != nil {
		return fmt.Errorf("scheduler: record step terminal for %s: %w", stepID, err)
	}
	return nil
}

// buildStepRequest assembles one step's StepRequest, applying the
// phase-appropriate upstream filter.
func (s *Scheduler) buildStepRequest(in RunInput, step plan.Step, outputs map[string]string, manifest []manifestEntry, attempt int) StepRequest {
	upstream := defaultUpstream(step, outputs)
	if isReviewer(step.Agent) {
		upstream = reviewerUpstream(outputs, renderManifest(manifest))
	}
	return StepRequest{
		PipelineRunID:   in.PipelineRun.ID,
		ChatID:          in.PipelineRun.ChatID,
		ProjectID:       in.ProjectID,
		UserMessage:     in.DAG.UserMessage,
		Step:            step,
		Attempt:         attempt,
		UpstreamOutputs: upstream,
		Context:         in.Context,
		ChatHistory:     in.ChatHistory,
		Credentials:     in.Credentials,
	}
}

// wfFixerRunner adapts remediation.FixerRunner to the workflow context,
// dispatching a fixer as an ordinary run_step activity under the
// remediation upstream filter.
type wfFixerRunner struct {
	wf  engine.WorkflowContext
	in  RunInput
	out map[string]string
}

func (a *wfFixerRunner) RunFixer(_ context.Context, fixer agent.Ident, _ string) (string, error) {
	req := StepRequest{
		PipelineRunID:   a.in.PipelineRun.ID,
		ChatID:          a.in.PipelineRun.ChatID,
		ProjectID:       a.in.ProjectID,
		UserMessage:     a.in.DAG.UserMessage,
		Step:            plan.Step{ID: "remediation-" + string(fixer), Agent: fixer, UserMessage: a.in.DAG.UserMessage},
		Attempt:         1,
		UpstreamOutputs: remediationUpstream(a.out),
		Context:         a.in.Context,
		ChatHistory:     a.in.ChatHistory,
		Credentials:     a.in.Credentials,
	}
	var res StepResult
	if err := a.wf.ExecuteActivity(a.wf.Context(), engine.ActivityRequest{Name: RunStepActivity, Input: req}, &res); err != nil {
		return "", err
	}
	a.out[string(fixer)] = res.Output
	return res.Output, nil
}

// wfReviewerRunner adapts remediation.ReviewerRunner to the workflow
// context, re-running one reviewer under the re-review upstream filter
// (architect only).
type wfReviewerRunner struct {
	wf  engine.WorkflowContext
	in  RunInput
	out map[string]string
}

func (a *wfReviewerRunner) RunReviewer(_ context.Context, reviewer agent.Ident) (string, error) {
	req := StepRequest{
		PipelineRunID:   a.in.PipelineRun.ID,
		ChatID:          a.in.PipelineRun.ChatID,
		ProjectID:       a.in.ProjectID,
		UserMessage:     a.in.DAG.UserMessage,
		Step:            plan.Step{ID: "re-review-" + string(reviewer), Agent: reviewer, UserMessage: a.in.DAG.UserMessage},
		Attempt:         1,
		UpstreamOutputs: reReviewUpstream(a.out),
		Context:         a.in.Context,
		ChatHistory:     a.in.ChatHistory,
		Credentials:     a.in.Credentials,
	}
	var res StepResult
	if err := a.wf.ExecuteActivity(a.wf.Context(), engine.ActivityRequest{Name: RunStepActivity, Input: req}, &res); err != nil {
		return "", err
	}
	return res.Output, nil
}

// wfCostChecker adapts remediation.CostChecker to the workflow context,
// running the budget read as the check_cost_limit activity.
type wfCostChecker struct{ wf engine.WorkflowContext }

func (a *wfCostChecker) CheckCostLimit(_ context.Context, chatID string, limit float64) (budget.Gate, error) {
	var g budget.Gate
	err := a.wf.ExecuteActivity(a.wf.Context(), engine.ActivityRequest{
		Name: CheckCostLimitActivity, Input: CostCheckRequest{ChatID: chatID, Limit: limit},
	}, &g)
	return g, err
}

// runRemediation drives remediation.Controller from inside the workflow,
// updating outputs in place with each cycle's fixer/reviewer results so the
// final Summary step sees the corrected state.
func (s *Scheduler) runRemediation(wf engine.WorkflowContext, in RunInput, outputs map[string]string, findings review.Findings) (remediation.Result, error) {
	ctrl := remediation.New(
		&wfFixerRunner{wf: wf, in: in, out: outputs},
		&wfReviewerRunner{wf: wf, in: in, out: outputs},
		&wfCostChecker{wf: wf},
	)
	result, err := ctrl.Run(wf.Context(), remediation.Input{
		ChatID: in.PipelineRun.ChatID, CostLimit: in.CostLimit, FirstFindings: findings,
	})
	if err != nil {
		return result, err
	}
	for _, cycle := range result.Cycles {
		for reviewer, finding := range cycle.Findings.ByAgent {
			outputs[reviewer] = finding.Output
		}
	}
	return result, nil
}

// runSummary dispatches the final orchestrator:summary step with every
// step's output plus the remediation outcome as upstream context.
func (s *Scheduler) runSummary(wf engine.WorkflowContext, in RunInput, outputs map[string]string, findings review.Findings, cycles int) (string, error) {
	upstream := make(map[string]string, len(outputs)+1)
	for k, v := range outputs {
		upstream[k] = TruncateUpstream(v)
	}
	upstream["remediation"] = summarizeRemediation(findings, cycles)

	req := StepRequest{
		PipelineRunID:   in.PipelineRun.ID,
		ChatID:          in.PipelineRun.ChatID,
		ProjectID:       in.ProjectID,
		UserMessage:     in.DAG.UserMessage,
		Step:            plan.Step{ID: "orchestrator:summary", Agent: agent.OrchestratorSummary, UserMessage: in.DAG.UserMessage},
		Attempt:         1,
		UpstreamOutputs: upstream,
		Context:         in.Context,
		ChatHistory:     in.ChatHistory,
		Credentials:     in.Credentials,
	}
	var res StepResult
	if err := wf.ExecuteActivity(wf.Context(), engine.ActivityRequest{Name: RunStepActivity, Input: req}, &res); err != nil {
		return "", err
	}
	return res.Output, nil
}

func summarizeRemediation(findings review.Findings, cycles int) string {
	if cycles == 0 {
		return "No remediation was needed; every reviewer passed on the first run."
	}
	if findings.HasIssues {
		return fmt.Sprintf("Ran %d remediation cycle(s); some review findings are still unresolved.", cycles)
	}
	return fmt.Sprintf("Ran %d remediation cycle(s); all reviewers now pass.", cycles)
}
