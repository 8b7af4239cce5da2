package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/anthonybaldwin/crewforge/internal/budget"
)

// StoreOptions configures the Mongo-backed budget.Store.
type StoreOptions struct {
	Client Client
}

// Store implements budget.Store by delegating to the Mongo client.
type Store struct {
	client Client
}

// NewStore builds a Store using the provided client.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo instantiates the Store by constructing the underlying client.
func NewStoreFromMongo(opts Options) (*Store, error) {
	client, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(StoreOptions{Client: client})
}

// Insert implements budget.Store.
func (s *Store) Insert(ctx context.Context, rec budget.TokenRecord) error {
	return s.client.InsertRecord(ctx, rec)
}

// Update implements budget.Store.
func (s *Store) Update(ctx context.Context, rec budget.TokenRecord) error {
	return s.client.UpdateRecord(ctx, rec)
}

// Delete implements budget.Store.
func (s *Store) Delete(ctx context.Context, stepID string) error {
	return s.client.DeleteRecord(ctx, stepID)
}

// SumCostByChat implements budget.Store.
func (s *Store) SumCostByChat(ctx context.Context, chatID string) (float64, error) {
	return s.client.SumCost(ctx, bson.M{"chat_id": chatID})
}

// SumCostToday implements budget.Store.
func (s *Store) SumCostToday(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.client.SumCost(ctx, bson.M{"created_at": bson.M{"$gte": dayStart}})
}

// SumCostByProject implements budget.Store.
func (s *Store) SumCostByProject(ctx context.Context, projectID string) (float64, error) {
	return s.client.SumCost(ctx, bson.M{"project_id": projectID})
}

// ForReconciliation implements budget.Store.
func (s *Store) ForReconciliation(ctx context.Context) ([]budget.TokenRecord, error) {
	return s.client.AllLedgerRecords(ctx)
}

// UpdateReconciled implements budget.Store.
func (s *Store) UpdateReconciled(ctx context.Context, rec budget.TokenRecord) error {
	return s.client.UpdateRecord(ctx, rec)
}
