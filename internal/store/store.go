// Package store implements the Execution Record Store: the
// durable record of Pipeline Runs and Steps, used for crash recovery
// (findInterruptedPipelineRun, cleanupStaleExecutions) and progress
// tracking. internal/store/mongo is the production backend;
// internal/store/inmem backs tests.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is a Step's lifecycle state. completed and failed are terminal;
// the store never re-opens a terminal step.
type Status string

const (
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether a transition out of s is disallowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PipelineRun is one Scheduler-driven DAG execution for a single chat turn.
// Intent, Scope, and ResearchJSON are persisted alongside the row (rather
// than derived only in memory) so resumeOrchestration can rebuild the same
// DAG buildExecutionPlan produced originally, without re-running
// classification or research against a possibly-restarted chat.
type PipelineRun struct {
	ID           string
	ChatID       string
	ProjectID    string
	UserMessage  string
	Intent       string
	Scope        string
	ResearchJSON string
	Status       Status
	StartedAt    time.Time
	CompletedAt  time.Time
}

// StepRecord is one Step's execution history row.
type StepRecord struct {
	ID            string
	PipelineRunID string
	ChatID        string
	AgentKey      string
	Status        Status
	Attempt       int
	Output        string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// ErrTerminal is returned when a caller attempts to transition a step that
// has already reached completed or failed.
var ErrTerminal = errors.New("store: step already terminal")

// Store persists PipelineRun and StepRecord rows.
type Store interface {
	StartPipelineRun(ctx context.Context, run PipelineRun) error
	CompletePipelineRun(ctx context.Context, id string, status Status) error
	GetPipelineRun(ctx context.Context, id string) (PipelineRun, bool, error)

	RecordStepStart(ctx context.Context, step StepRecord) error
	RecordStepRetry(ctx context.Context, id string, attempt int) error
	RecordStepComplete(ctx context.Context, id string, output string) error
	RecordStepFailed(ctx context.Context, id string, errMsg string) error
	RecordStepStopped(ctx context.Context, id string) error

	// CleanupStaleExecutions marks every row still running/retrying as
	// failed with a fixed reason and returns the distinct chat ids affected,
	// so the caller can insert one system message per chat.
	CleanupStaleExecutions(ctx context.Context) ([]string, error)

	// FindInterruptedPipelineRun finds the latest pipeline run for chatID
	// whose status is failed, for resumeOrchestration (boot cleanup marks
	// interrupted runs failed). It does not distinguish a run halted by a
	// fatal step error from one interrupted mid-step.
	FindInterruptedPipelineRun(ctx context.Context, chatID string) (PipelineRun, bool, error)

	// StepsForRun returns every step recorded for a pipeline run, in
	// insertion order, so resumeOrchestration can skip already-completed
	// steps.
	StepsForRun(ctx context.Context, pipelineRunID string) ([]StepRecord, error)
}

// StaleExecutionReason is the fixed reason recorded on boot-time cleanup.
const StaleExecutionReason = "Server restarted — pipeline interrupted"
