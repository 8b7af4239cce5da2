// Package inmem provides an in-memory store.Store for tests and
// single-process deployments.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthonybaldwin/crewforge/internal/store"
)

// Store is a mutex-guarded, process-local store.Store.
type Store struct {
	mu    sync.Mutex
	runs  map[string]store.PipelineRun
	steps map[string]store.StepRecord
	// order preserves step insertion order per pipeline run for StepsForRun.
	order map[string][]string
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		runs:  make(map[string]store.PipelineRun),
		steps: make(map[string]store.StepRecord),
		order: make(map[string][]string),
	}
}

func (s *Store) StartPipelineRun(_ context.Context, run store.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status == "" {
		run.Status = store.StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) CompletePipelineRun(_ context.Context, id string, status store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("store: pipeline run %q not found", id)
	}
	run.Status = status
	run.CompletedAt = time.Now().UTC()
	s.runs[id] = run
	return nil
}

func (s *Store) GetPipelineRun(_ context.Context, id string) (store.PipelineRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *Store) RecordStepStart(_ context.Context, step store.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step.Status == "" {
		step.Status = store.StatusRunning
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	if _, exists := s.steps[step.ID]; !exists {
		s.order[step.PipelineRunID] = append(s.order[step.PipelineRunID], step.ID)
	}
	s.steps[step.ID] = step
	return nil
}

func (s *Store) RecordStepRetry(_ context.Context, id string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, err := s.mustStep(id)
	if err != nil {
		return err
	}
	step.Status = store.StatusRetrying
	step.Attempt = attempt
	s.steps[id] = step
	return nil
}

func (s *Store) RecordStepComplete(_ context.Context, id string, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, err := s.mustStep(id)
	if err != nil {
		return err
	}
	step.Status = store.StatusCompleted
	step.Output = output
	step.CompletedAt = time.Now().UTC()
	s.steps[id] = step
	return nil
}

func (s *Store) RecordStepFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, err := s.mustStep(id)
	if err != nil {
		return err
	}
	step.Status = store.StatusFailed
	step.Error = errMsg
	step.CompletedAt = time.Now().UTC()
	s.steps[id] = step
	return nil
}

func (s *Store) RecordStepStopped(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, err := s.mustStep(id)
	if err != nil {
		return err
	}
	step.Status = store.StatusStopped
	step.CompletedAt = time.Now().UTC()
	s.steps[id] = step
	return nil
}

// mustStep looks up a step and rejects transitions out of a terminal state
// (store.Store invariant); caller holds s.mu.
func (s *Store) mustStep(id string) (store.StepRecord, error) {
	step, ok := s.steps[id]
	if !ok {
		return store.StepRecord{}, fmt.Errorf("store: step %q not found", id)
	}
	if step.Status.IsTerminal() {
		return store.StepRecord{}, fmt.Errorf("%w: %s", store.ErrTerminal, id)
	}
	return step, nil
}

func (s *Store) CleanupStaleExecutions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var chatIDs []string
	for id, step := range s.steps {
		if step.Status != store.StatusRunning && step.Status != store.StatusRetrying {
			continue
		}
		step.Status = store.StatusFailed
		step.Error = store.StaleExecutionReason
		step.CompletedAt = time.Now().UTC()
		s.steps[id] = step
		if _, ok := seen[step.ChatID]; !ok {
			seen[step.ChatID] = struct{}{}
			chatIDs = append(chatIDs, step.ChatID)
		}
	}
	for id, run := range s.runs {
		if run.Status == store.StatusRunning || run.Status == store.StatusRetrying {
			run.Status = store.StatusFailed
			run.CompletedAt = time.Now().UTC()
			s.runs[id] = run
		}
	}
	return chatIDs, nil
}

func (s *Store) FindInterruptedPipelineRun(_ context.Context, chatID string) (store.PipelineRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest store.PipelineRun
	found := false
	for _, run := range s.runs {
		if run.ChatID != chatID || run.Status != store.StatusFailed {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) StepsForRun(_ context.Context, pipelineRunID string) ([]store.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.order[pipelineRunID]
	steps := make([]store.StepRecord, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, s.steps[id])
	}
	return steps, nil
}
