// Package mongo backs store.Store with MongoDB, grouping pipeline runs and
// their steps under two collections.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/anthonybaldwin/crewforge/internal/store"
)

const (
	defaultRunsCollection  = "pipeline_runs"
	defaultStepsCollection = "pipeline_steps"
	defaultOpTimeout       = 5 * time.Second
)

// Options configures Store.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	RunsCollection  string
	StepsCollection string
	Timeout         time.Duration
}

// Store implements store.Store over two Mongo collections.
type Store struct {
	runs    collection
	steps   collection
	timeout time.Duration
}

// NewStore builds a Mongo-backed Store, creating required indexes.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("store/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("store/mongo: database is required")
	}
	runsName := opts.RunsCollection
	if runsName == "" {
		runsName = defaultRunsCollection
	}
	stepsName := opts.StepsCollection
	if stepsName == "" {
		stepsName = defaultStepsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	runs := &mongoCollection{coll: db.Collection(runsName)}
	steps := &mongoCollection{coll: db.Collection(stepsName)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureStepIndexes(ctx, steps); err != nil {
		return nil, err
	}

	return &Store{runs: runs, steps: steps, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) StartPipelineRun(ctx context.Context, run store.PipelineRun) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if run.Status == "" {
		run.Status = store.StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.runs.InsertOne(ctx, fromRun(run))
	return err
}

func (s *Store) CompletePipelineRun(ctx context.Context, id string, status store.Status) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{"status": string(status), "completed_at": time.Now().UTC()}}
	_, err := s.runs.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

func (s *Store) RecordStepStart(ctx context.Context, step store.StepRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if step.Status == "" {
		step.Status = store.StatusRunning
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	_, err := s.steps.InsertOne(ctx, fromStep(step))
	return err
}

func (s *Store) RecordStepRetry(ctx context.Context, id string, attempt int) error {
	return s.updateStepIfNotTerminal(ctx, id, bson.M{"status": string(store.StatusRetrying), "attempt": attempt})
}

func (s *Store) RecordStepComplete(ctx context.Context, id string, output string) error {
	return s.updateStepIfNotTerminal(ctx, id, bson.M{
		"status": string(store.StatusCompleted), "output": output, "completed_at": time.Now().UTC(),
	})
}

func (s *Store) RecordStepFailed(ctx context.Context, id string, errMsg string) error {
	return s.updateStepIfNotTerminal(ctx, id, bson.M{
		"status": string(store.StatusFailed), "error": errMsg, "completed_at": time.Now().UTC(),
	})
}

func (s *Store) RecordStepStopped(ctx context.Context, id string) error {
	return s.updateStepIfNotTerminal(ctx, id, bson.M{
		"status": string(store.StatusStopped), "completed_at": time.Now().UTC(),
	})
}

func (s *Store) updateStepIfNotTerminal(ctx context.Context, id string, fields bson.M) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": []string{string(store.StatusCompleted), string(store.StatusFailed)}},
	}
	res, err := s.steps.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", store.ErrTerminal, id)
	}
	return nil
}

func (s *Store) CleanupStaleExecutions(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	staleFilter := bson.M{"status": bson.M{"$in": []string{string(store.StatusRunning), string(store.StatusRetrying)}}}

	cur, err := s.steps.Find(ctx, staleFilter)
	if err != nil {
		return nil, err
	}
	var docs []stepDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var chatIDs []string
	for _, d := range docs {
		if _, ok := seen[d.ChatID]; ok {
			continue
		}
		seen[d.ChatID] = struct{}{}
		chatIDs = append(chatIDs, d.ChatID)
	}

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"status": string(store.StatusFailed), "error": store.StaleExecutionReason, "completed_at": now}}
	if _, err := s.steps.UpdateMany(ctx, staleFilter, update); err != nil {
		return nil, err
	}
	if _, err := s.runs.UpdateMany(ctx, staleFilter, bson.M{"$set": bson.M{"status": string(store.StatusFailed), "completed_at": now}}); err != nil {
		return nil, err
	}
	return chatIDs, nil
}

func (s *Store) GetPipelineRun(ctx context.Context, id string) (store.PipelineRun, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.PipelineRun{}, false, nil
		}
		return store.PipelineRun{}, false, err
	}
	return toRun(doc), true, nil
}

func (s *Store) FindInterruptedPipelineRun(ctx context.Context, chatID string) (store.PipelineRun, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"chat_id": chatID, "status": string(store.StatusFailed)}
	opts := options.FindOne().SetSort(bson.M{"started_at": -1})
	var doc runDocument
	err := s.runs.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.PipelineRun{}, false, nil
		}
		return store.PipelineRun{}, false, err
	}
	return toRun(doc), true, nil
}

func (s *Store) StepsForRun(ctx context.Context, pipelineRunID string) ([]store.StepRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.steps.Find(ctx, bson.M{"pipeline_run_id": pipelineRunID}, options.Find().SetSort(bson.M{"started_at": 1}))
	if err != nil {
		return nil, err
	}
	var docs []stepDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	steps := make([]store.StepRecord, 0, len(docs))
	for _, d := range docs {
		steps = append(steps, toStep(d))
	}
	return steps, nil
}

func ensureStepIndexes(ctx context.Context, steps collection) error {
	_, err := steps.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "pipeline_run_id", Value: 1}, {Key: "started_at", Value: 1}},
		Options: options.Index(),
	})
	return err
}
