// Package mongo provides the MongoDB-backed budget.Store: a dual write to an
// operational collection (joined to chats, pruned with them) and a permanent
// ledger collection (never pruned, the source of truth for Reconcile).
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/anthonybaldwin/crewforge/internal/budget"
)

const (
	defaultOperationalCollection = "token_usage"
	defaultLedgerCollection      = "token_ledger"
	defaultOpTimeout             = 5 * time.Second
)

// Client exposes the Mongo operations the Store needs.
type Client interface {
	Ping(ctx context.Context) error

	InsertRecord(ctx context.Context, rec budget.TokenRecord) error
	UpdateRecord(ctx context.Context, rec budget.TokenRecord) error
	DeleteRecord(ctx context.Context, stepID string) error
	SumCost(ctx context.Context, filter bson.M) (float64, error)
	AllLedgerRecords(ctx context.Context) ([]budget.TokenRecord, error)
}

// Options configures the Mongo budget client.
type Options struct {
	Client                *mongodriver.Client
	Database              string
	OperationalCollection string
	LedgerCollection      string
	Timeout               time.Duration
}

type client struct {
	mongo       *mongodriver.Client
	operational collection
	ledger      collection
	timeout     time.Duration
}

// New returns a Client backed by MongoDB, dual-writing to an operational
// collection and a permanent ledger collection.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	opCollName := opts.OperationalCollection
	if opCollName == "" {
		opCollName = defaultOperationalCollection
	}
	ledgerCollName := opts.LedgerCollection
	if ledgerCollName == "" {
		ledgerCollName = defaultLedgerCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	opColl := mongoCollection{coll: db.Collection(opCollName)}
	ledgerColl := mongoCollection{coll: db.Collection(ledgerCollName)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, opColl); err != nil {
		return nil, err
	}
	if err := ensureIndexes(ctx, ledgerColl); err != nil {
		return nil, err
	}

	return &client{
		mongo:       opts.Client,
		operational: opColl,
		ledger:      ledgerColl,
		timeout:     timeout,
	}, nil
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// InsertRecord writes the provisional row to both collections.
func (c *client) InsertRecord(ctx context.Context, rec budget.TokenRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := fromRecord(rec)
	if _, err := c.operational.InsertOne(ctx, doc); err != nil {
		return err
	}
	if _, err := c.ledger.InsertOne(ctx, doc); err != nil {
		return err
	}
	return nil
}

// UpdateRecord overwrites a row in both collections (finalize or reconcile).
func (c *client) UpdateRecord(ctx context.Context, rec budget.TokenRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := fromRecord(rec)
	filter := bson.M{"step_id": rec.StepID}
	update := bson.M{"$set": doc}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := c.operational.UpdateOne(ctx, filter, update, opts); err != nil {
		return err
	}
	if _, err := c.ledger.UpdateOne(ctx, filter, update, opts); err != nil {
		return err
	}
	return nil
}

// DeleteRecord voids a provisional row by deleting it from both the
// operational and the permanent-ledger collection, so a voided call leaves
// no trace in either.
func (c *client) DeleteRecord(ctx context.Context, stepID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"step_id": stepID}
	if _, err := c.operational.DeleteOne(ctx, filter); err != nil {
		return err
	}
	if _, err := c.ledger.DeleteOne(ctx, filter); err != nil {
		return err
	}
	return nil
}

// SumCost aggregates cost_usd over the permanent ledger for the given filter.
func (c *client) SumCost(ctx context.Context, filter bson.M) (float64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$cost_usd"}}}},
	}
	cur, err := c.ledger.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// AllLedgerRecords streams every permanent-ledger row for reconciliation.
func (c *client) AllLedgerRecords(ctx context.Context) ([]budget.TokenRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.ledger.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []tokenDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]budget.TokenRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type tokenDocument struct {
	StepID       string    `bson:"step_id"`
	ChatID       string    `bson:"chat_id"`
	ProjectID    string    `bson:"project_id"`
	AgentKey     string    `bson:"agent_key"`
	Provider     string    `bson:"provider"`
	Model        string    `bson:"model"`
	HashedAPIKey string    `bson:"hashed_api_key"`
	InputTokens  int       `bson:"input_tokens"`
	OutputTokens int       `bson:"output_tokens"`
	CacheCreate  int       `bson:"cache_create_tokens"`
	CacheRead    int       `bson:"cache_read_tokens"`
	Estimated    bool      `bson:"estimated"`
	CostUSD      float64   `bson:"cost_usd"`
	CreatedAt    time.Time `bson:"created_at"`
}

func fromRecord(rec budget.TokenRecord) tokenDocument {
	return tokenDocument{
		StepID:       rec.StepID,
		ChatID:       rec.ChatID,
		ProjectID:    rec.ProjectID,
		AgentKey:     rec.AgentKey,
		Provider:     rec.Provider,
		Model:        rec.Model,
		HashedAPIKey: rec.HashedAPIKey,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CacheCreate:  rec.CacheCreate,
		CacheRead:    rec.CacheRead,
		Estimated:    rec.Estimated,
		CostUSD:      rec.CostUSD,
		CreatedAt:    rec.CreatedAt,
	}
}

func (d tokenDocument) toRecord() budget.TokenRecord {
	return budget.TokenRecord{
		StepID:       d.StepID,
		ChatID:       d.ChatID,
		ProjectID:    d.ProjectID,
		AgentKey:     d.AgentKey,
		Provider:     d.Provider,
		Model:        d.Model,
		HashedAPIKey: d.HashedAPIKey,
		InputTokens:  d.InputTokens,
		OutputTokens: d.OutputTokens,
		CacheCreate:  d.CacheCreate,
		CacheRead:    d.CacheRead,
		Estimated:    d.Estimated,
		CostUSD:      d.CostUSD,
		CreatedAt:    d.CreatedAt,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "step_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	Find(ctx context.Context, filter any) (cursor, error)
	Aggregate(ctx context.Context, pipeline any) (cursor, error)
	Indexes() indexView
}

type cursor interface {
	All(ctx context.Context, out any) error
	Close(ctx context.Context) error
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter)
}

func (c mongoCollection) Find(ctx context.Context, filter any) (cursor, error) {
	return c.coll.Find(ctx, filter)
}

func (c mongoCollection) Aggregate(ctx context.Context, pipeline any) (cursor, error) {
	return c.coll.Aggregate(ctx, pipeline)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
