// Package orchestrator implements the Orchestration Engine's top-level API
//: runOrchestration, resumeOrchestration, abortOrchestration,
// and isOrchestrationRunning. It wires the Plan Builder, Scheduler, Agent
// Runner, Review Detector, and Remediation Controller into one Pipeline Run
// per chat turn, registering the Scheduler as a durable workflow on the
// given Engine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthonybaldwin/crewforge/internal/bus"
	"github.com/anthonybaldwin/crewforge/internal/engine"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/scheduler"
	"github.com/anthonybaldwin/crewforge/internal/store"
)

// Agents is the subset of *runner.Runner the Orchestrator calls directly,
// outside any Scheduler activity: intent classification and research both
// run once, before a DAG exists for the Scheduler to walk.
type Agents interface {
	Invoke(ctx context.Context, in runner.Input) (runner.Output, error)
}

// ProjectFiles reports whether a project's sandbox root already has files,
// deciding whether intent classification runs at all.
type ProjectFiles interface {
	HasExistingFiles(projectID string) (bool, error)
}

// WorkflowName is the name the Scheduler is registered under.
const WorkflowName = "crewforge.run"

// Deps are the already-constructed collaborators the Orchestrator wires
// together. The caller builds the Engine, Executor, and Store once at
// process start (see cmd/crewforge-demo); New registers the Scheduler's
// workflow and its three activities on Engine.
type Deps struct {
	Engine   engine.Engine
	Executor *scheduler.Executor
	Store    store.Store
	Bus      bus.Publisher
	Agents   Agents
	Files    ProjectFiles
	FanOut   int
}

// Orchestrator implements the four top-level lifecycle operations: starting
// a new run, resuming an interrupted one, recovering stale runs on boot,
// and aborting a running one.
type Orchestrator struct {
	engine engine.Engine
	exec   *scheduler.Executor
	store  store.Store
	pub    bus.Publisher
	agents Agents
	files  ProjectFiles

	mu      sync.Mutex
	running map[string]engine.WorkflowHandle // chatID -> handle
}

// New builds an Orchestrator and registers the Scheduler as deps.Engine's
// workflow, with its Executor's methods as the run_step, check_cost_limit,
// and record_step_terminal activities.
func New(ctx context.Context, deps Deps) (*Orchestrator, error) {
	sched := scheduler.New(deps.FanOut)
	if err := deps.Engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: WorkflowName, Handler: sched.Run}); err != nil {
		return nil, fmt.Errorf("orchestrator: register workflow: %w", err)
	}
	if err := deps.Engine.RegisterActivity(ctx, engine.ActivityDefinition{Name: scheduler.RunStepActivity, Handler: deps.Executor.RunStep}); err != nil {
		return nil, fmt.Errorf("orchestrator: register run_step activity: %w", err)
	}
	if err := deps.Engine.RegisterActivity(ctx, engine.ActivityDefinition{Name: scheduler.CheckCostLimitActivity, Handler: deps.Executor.CheckCostLimit}); err != nil {
		return nil, fmt.Errorf("orchestrator: register check_cost_limit activity: %w", err)
	}
	if err := deps.Engine.RegisterActivity(ctx, engine.ActivityDefinition{Name: scheduler.RecordStepTerminalActivity, Handler: deps.Executor.RecordStepTerminal}); err != nil {
		return nil, fmt.Errorf("orchestrator: register record_step_terminal activity: %w", err)
	}
	return &Orchestrator{
		engine: deps.Engine, exec: deps.Executor, store: deps.Store, pub: deps.Bus,
		agents: deps.Agents, files: deps.Files, running: make(map[string]engine.WorkflowHandle),
	}, nil
}

// isOrchestrationRunning reports whether chatID has an in-flight Pipeline
// Run.
func (o *Orchestrator) IsOrchestrationRunning(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[chatID]
	return ok
}

// abortOrchestration signals the in-flight run for chatID to stop, if any
//. It is a no-op when chatID has no
// running Pipeline Run.
func (o *Orchestrator) AbortOrchestration(ctx context.Context, chatID string) error {
	o.mu.Lock()
	handle, ok := o.running[chatID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return handle.Signal(ctx, scheduler.AbortSignal, struct{}{})
}

func (o *Orchestrator) track(chatID string, handle engine.WorkflowHandle) {
	o.mu.Lock()
	o.running[chatID] = handle
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(chatID string) {
	o.mu.Lock()
	delete(o.running, chatID)
	o.mu.Unlock()
}
