package mongo

import (
	"context"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/anthonybaldwin/crewforge/internal/store"
)

type runDocument struct {
	ID           string    `bson:"_id"`
	ChatID       string    `bson:"chat_id"`
	ProjectID    string    `bson:"project_id"`
	UserMessage  string    `bson:"user_message"`
	Intent       string    `bson:"intent,omitempty"`
	Scope        string    `bson:"scope,omitempty"`
	ResearchJSON string    `bson:"research_json,omitempty"`
	Status       string    `bson:"status"`
	StartedAt    time.Time `bson:"started_at"`
	CompletedAt  time.Time `bson:"completed_at,omitempty"`
}

func fromRun(r store.PipelineRun) runDocument {
	return runDocument{
		ID:           r.ID,
		ChatID:       r.ChatID,
		ProjectID:    r.ProjectID,
		UserMessage:  r.UserMessage,
		Intent:       r.Intent,
		Scope:        r.Scope,
		ResearchJSON: r.ResearchJSON,
		Status:       string(r.Status),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func toRun(d runDocument) store.PipelineRun {
	return store.PipelineRun{
		ID:           d.ID,
		ChatID:       d.ChatID,
		ProjectID:    d.ProjectID,
		UserMessage:  d.UserMessage,
		Intent:       d.Intent,
		Scope:        d.Scope,
		ResearchJSON: d.ResearchJSON,
		Status:       store.Status(d.Status),
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
	}
}

type stepDocument struct {
	ID            string    `bson:"_id"`
	PipelineRunID string    `bson:"pipeline_run_id"`
	ChatID        string    `bson:"chat_id"`
	AgentKey      string    `bson:"agent_key"`
	Status        string    `bson:"status"`
	Attempt       int       `bson:"attempt"`
	Output        string    `bson:"output,omitempty"`
	Error         string    `bson:"error,omitempty"`
	StartedAt     time.Time `bson:"started_at"`
	CompletedAt   time.Time `bson:"completed_at,omitempty"`
}

func fromStep(s store.StepRecord) stepDocument {
	return stepDocument{
		ID:            s.ID,
		PipelineRunID: s.PipelineRunID,
		ChatID:        s.ChatID,
		AgentKey:      s.AgentKey,
		Status:        string(s.Status),
		Attempt:       s.Attempt,
		Output:        s.Output,
		Error:         s.Error,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}
}

func toStep(d stepDocument) store.StepRecord {
	return store.StepRecord{
		ID:            d.ID,
		PipelineRunID: d.PipelineRunID,
		ChatID:        d.ChatID,
		AgentKey:      d.AgentKey,
		Status:        store.Status(d.Status),
		Attempt:       d.Attempt,
		Output:        d.Output,
		Error:         d.Error,
		StartedAt:     d.StartedAt,
		CompletedAt:   d.CompletedAt,
	}
}

type collection interface {
	InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any) (*mongodriver.UpdateResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Indexes() indexView
}

type cursor interface {
	All(ctx context.Context, out any) error
}

type singleResult interface {
	Decode(out any) error
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter, update any) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateMany(ctx, filter, update)
}

func (c *mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c *mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c *mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
