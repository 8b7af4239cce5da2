package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/bus"
	"github.com/anthonybaldwin/crewforge/internal/engine"
	"github.com/anthonybaldwin/crewforge/internal/plan"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/scheduler"
	"github.com/anthonybaldwin/crewforge/internal/store"
)

// RunRequest is RunOrchestration's input: the chat and project this run
// targets, the user's message, and the provider credentials to invoke
// agents with.
type RunRequest struct {
	ChatID      string
	ProjectID   string
	UserMessage string
	ChatHistory []runner.HistoryMessage
	Context     map[string]any
	Credentials providers.Credentials
	CostLimit   float64
}

// RunOrchestration classifies intent, runs research when the DAG needs it,
// builds the plan, and starts the Pipeline Run. It is fire-and-forget:
// progress is observed via the broadcast bus, not this call's return value.
func (o *Orchestrator) RunOrchestration(ctx context.Context, req RunRequest) error {
	if o.IsOrchestrationRunning(req.ChatID) {
		return fmt.Errorf("orchestrator: chat %s already has a pipeline running", req.ChatID)
	}

	runID := newRunID(req.ChatID)

	hasFiles := false
	if o.files != nil {
		var err error
		hasFiles, err = o.files.HasExistingFiles(req.ProjectID)
		if err != nil {
			return fmt.Errorf("orchestrator: check existing files: %w", err)
		}
	}
	intent, scope := plan.ClassifyIntent(ctx, hasFiles, req.UserMessage, o.classifier(runID, req))

	researchJSON := ""
	if intent == plan.IntentBuild {
		researchJSON = o.research(ctx, runID, req)
	}

	dag := plan.BuildExecutionPlan(req.UserMessage, researchJSON, intent, scope)

	pr := store.PipelineRun{
		ID: runID, ChatID: req.ChatID, ProjectID: req.ProjectID, UserMessage: req.UserMessage,
		Intent: string(intent), Scope: string(scope), ResearchJSON: researchJSON,
	}
	if err := o.store.StartPipelineRun(ctx, pr); err != nil {
		return fmt.Errorf("orchestrator: start pipeline run: %w", err)
	}

	return o.dispatch(ctx, runID, dag, req, nil, nil)
}

// ResumeOrchestration rebuilds the Pipeline Run's DAG from its stored
// intent/scope/research, seeds already-completed steps from the Execution
// Record Store, and starts a new workflow run that only dispatches the
// steps that never finished.
func (o *Orchestrator) ResumeOrchestration(ctx context.Context, pipelineRunID string, req RunRequest) error {
	run, ok, err := o.store.GetPipelineRun(ctx, pipelineRunID)
	if err != nil {
		return fmt.Errorf("orchestrator: load pipeline run %s: %w", pipelineRunID, err)
	}
	if !ok {
		return fmt.Errorf("orchestrator: pipeline run %s not found", pipelineRunID)
	}
	if o.IsOrchestrationRunning(run.ChatID) {
		return fmt.Errorf("orchestrator: chat %s already has a pipeline running", run.ChatID)
	}

	dag := plan.BuildExecutionPlan(run.UserMessage, run.ResearchJSON, plan.Intent(run.Intent), plan.Scope(run.Scope))

	steps, err := o.store.StepsForRun(ctx, pipelineRunID)
	if err != nil {
		return fmt.Errorf("orchestrator: load steps for run %s: %w", pipelineRunID, err)
	}
	var seedCompleted []string
	seedOutputs := make(map[string]string)
	for _, s := range steps {
		if s.Status != store.StatusCompleted {
			continue
		}
		id := bareStepID(s.ID, s.PipelineRunID)
		seedCompleted = append(seedCompleted, id)
		seedOutputs[id] = s.Output
	}

	newRun := newRunID(run.ChatID)
	pr := store.PipelineRun{
		ID: newRun, ChatID: run.ChatID, ProjectID: run.ProjectID, UserMessage: run.UserMessage,
		Intent: run.Intent, Scope: run.Scope, ResearchJSON: run.ResearchJSON,
	}
	if err := o.store.StartPipelineRun(ctx, pr); err != nil {
		return fmt.Errorf("orchestrator: start resumed pipeline run: %w", err)
	}

	req.ChatID = run.ChatID
	req.ProjectID = run.ProjectID
	req.UserMessage = run.UserMessage
	return o.dispatch(ctx, newRun, dag, req, seedCompleted, seedOutputs)
}

// RecoverOnBoot marks every row an unclean shutdown left running/retrying as
// failed, and publishes one system chat message per affected chat.
func (o *Orchestrator) RecoverOnBoot(ctx context.Context) error {
	chatIDs, err := o.store.CleanupStaleExecutions(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: cleanup stale executions: %w", err)
	}
	for _, chatID := range chatIDs {
		o.publishSystemMessage(chatID, store.StaleExecutionReason)
	}
	return nil
}

// dispatch starts the Scheduler workflow for one Pipeline Run and tracks its
// handle for isOrchestrationRunning/abortOrchestration, then waits for
// completion in the background.
func (o *Orchestrator) dispatch(ctx context.Context, runID string, dag plan.DAG, req RunRequest, seedCompleted []string, seedOutputs map[string]string) error {
	handle, err := o.engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: runID, Workflow: WorkflowName,
		Input: scheduler.RunInput{
			DAG:           dag,
			PipelineRun:   store.PipelineRun{ID: runID, ChatID: req.ChatID, ProjectID: req.ProjectID, UserMessage: req.UserMessage},
			ProjectID:     req.ProjectID,
			Context:       req.Context,
			ChatHistory:   req.ChatHistory,
			Credentials:   req.Credentials,
			CostLimit:     req.CostLimit,
			SeedCompleted: seedCompleted,
			SeedOutputs:   seedOutputs,
		},
	})
	if err != nil {
		return fmt.Errorf("orchestrator: start workflow: %w", err)
	}
	o.track(req.ChatID, handle)
	go o.awaitCompletion(req.ChatID, runID, handle)
	return nil
}

// awaitCompletion waits for one Pipeline Run's workflow to finish, updates
// its Store row, and publishes the terminal broadcast events the UI expects.
func (o *Orchestrator) awaitCompletion(chatID, runID string, handle engine.WorkflowHandle) {
	ctx := context.Background()
	var out scheduler.RunOutput
	_ = handle.Wait(ctx, &out)
	o.untrack(chatID)

	status := store.StatusCompleted
	switch out.Status {
	case "failed":
		status = store.StatusFailed
	case "stopped":
		status = store.StatusStopped
	}
	_ = o.store.CompletePipelineRun(ctx, runID, status)

	switch out.Status {
	case "failed":
		if o.pub != nil {
			o.pub.Publish(bus.Event{Kind: bus.EventPipelineHalt, PipelineHalt: &bus.PipelineHalt{
				ChatID: chatID, FailedAgent: out.HaltedAgent, Reason: out.HaltReason,
			}})
		}
		o.publishSystemMessage(chatID, fmt.Sprintf("Pipeline halted at %s: %s", out.HaltedAgent, out.HaltReason))
	case "stopped":
		o.publishSystemMessage(chatID, fmt.Sprintf("Pipeline stopped by user. Completed agents: %s", completedAgents(out)))
	}
}

func (o *Orchestrator) publishSystemMessage(chatID, content string) {
	if o.pub == nil {
		return
	}
	o.pub.Publish(bus.Event{Kind: bus.EventChatMessage, ChatMessage: &bus.ChatMessage{ChatID: chatID, AgentName: "system", Content: content}})
}

func completedAgents(out scheduler.RunOutput) string {
	names := make([]string, 0, len(out.StepOutputs))
	for k := range out.StepOutputs {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// classifier adapts o.agents into a plan.Classifier, invoking the cheap
// orchestrator:classify config and parsing its {"intent":...,"scope":...}
// response.
func (o *Orchestrator) classifier(runID string, req RunRequest) plan.Classifier {
	if o.agents == nil {
		return nil
	}
	return func(ctx context.Context, userMessage string) (plan.Intent, plan.Scope, error) {
		out, err := o.agents.Invoke(ctx, runner.Input{
			StepID: runID + ":classify", ChatID: req.ChatID, ProjectID: req.ProjectID,
			AgentKey: agent.OrchestratorClassify, UserMessage: userMessage,
			ChatHistory: req.ChatHistory, Credentials: req.Credentials,
		})
		if err != nil {
			return "", "", err
		}
		var decision struct {
			Intent string `json:"intent"`
			Scope  string `json:"scope"`
		}
		if err := json.Unmarshal([]byte(out.Content), &decision); err != nil {
			return "", "", fmt.Errorf("orchestrator: parse classify output: %w", err)
		}
		if decision.Intent == "" {
			return "", "", fmt.Errorf("orchestrator: classify output missing intent")
		}
		scope := plan.Scope(decision.Scope)
		if scope == "" {
			scope = plan.ScopeFull
		}
		return plan.Intent(decision.Intent), scope, nil
	}
}

// research invokes the research agent once, ahead of plan construction.
// Failure here is not fatal: BuildExecutionPlan's backend-detection
// heuristic already tolerates empty or unparseable research JSON.
func (o *Orchestrator) research(ctx context.Context, runID string, req RunRequest) string {
	if o.agents == nil {
		return ""
	}
	out, err := o.agents.Invoke(ctx, runner.Input{
		StepID: runID + ":research", ChatID: req.ChatID, ProjectID: req.ProjectID,
		AgentKey: agent.Research, UserMessage: req.UserMessage,
		ChatHistory: req.ChatHistory, Credentials: req.Credentials,
	})
	if err != nil {
		return ""
	}
	return out.Content
}

// newRunID assigns a Pipeline Run id unique across chats and resumes.
func newRunID(chatID string) string {
	return fmt.Sprintf("%s-%s", chatID, uuid.NewString())
}

// bareStepID recovers a Step's DAG id from its Execution Record Store row
// id, which run_step namespaces as "<pipelineRunID>:<stepID>"
// (scheduler.stepRowID) to keep retries and synthetic remediation/re-review
// steps from colliding across runs.
func bareStepID(rowID, runID string) string {
	return strings.TrimPrefix(rowID, runID+":")
}
