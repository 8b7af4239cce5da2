package budget

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/anthonybaldwin/crewforge/internal/model"
)

// Store persists TokenRecord rows. Implementations own the dual-write to
// the operational and permanent tables.
type Store interface {
	Insert(ctx context.Context, rec TokenRecord) error
	Update(ctx context.Context, rec TokenRecord) error
	Delete(ctx context.Context, stepID string) error

	SumCostByChat(ctx context.Context, chatID string) (float64, error)
	SumCostToday(ctx context.Context) (float64, error)
	SumCostByProject(ctx context.Context, projectID string) (float64, error)

	// ForReconciliation streams every permanent-ledger row so a batch job can
	// recompute cost from the current catalog.
	ForReconciliation(ctx context.Context) ([]TokenRecord, error)
	UpdateReconciled(ctx context.Context, rec TokenRecord) error
}

// Tokenizer produces a fast, approximate token count used only for
// provisional tracking; FinalizeTokenUsage replaces these estimates with
// provider-reported exact counts.
type Tokenizer interface {
	EstimateTokens(text string) int
}

// CharsPerTokenTokenizer approximates token count as text length divided by
// a fixed ratio. No tokenizer library appears anywhere in the reference
// corpus this module draws from, so this heuristic (the common ~4
// chars-per-token rule of thumb for English prose) is hand-rolled rather
// than imported.
type CharsPerTokenTokenizer struct {
	CharsPerToken int
}

// EstimateTokens implements Tokenizer.
func (t CharsPerTokenTokenizer) EstimateTokens(text string) int {
	ratio := t.CharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	if text == "" {
		return 0
	}
	n := len(text) / ratio
	if n == 0 {
		return 1
	}
	return n
}

// Ledger implements the write-ahead provisional -> final token record
// lifecycle and the budget gates.
type Ledger struct {
	store     Store
	catalog   Catalog
	tokenizer Tokenizer
}

// NewLedger builds a Ledger over the given Store and price Catalog.
func NewLedger(store Store, catalog Catalog) *Ledger {
	return &Ledger{store: store, catalog: catalog, tokenizer: CharsPerTokenTokenizer{CharsPerToken: 4}}
}

// ProvisionalInput describes the call about to be made, before any tokens
// are known exactly.
type ProvisionalInput struct {
	StepID       string
	ChatID       string
	ProjectID    string
	AgentKey     string
	Provider     string
	Model        string
	APIKey       string
	PromptText   string
	MaxOutTokens int
}

// TrackProvisionalUsage inserts a best-guess row before an LLM call.
func (l *Ledger) TrackProvisionalUsage(ctx context.Context, in ProvisionalInput) (TokenRecord, error) {
	inputEstimate := l.tokenizer.EstimateTokens(in.PromptText)
	outputEstimate := in.MaxOutTokens / 2
	if outputEstimate == 0 {
		outputEstimate = 256
	}
	cost, err := l.catalog.EstimateCost(in.Provider, in.Model, inputEstimate, outputEstimate, 0, 0)
	if err != nil {
		cost = 0
	}
	rec := TokenRecord{
		StepID:       in.StepID,
		ChatID:       in.ChatID,
		ProjectID:    in.ProjectID,
		AgentKey:     in.AgentKey,
		Provider:     in.Provider,
		Model:        in.Model,
		HashedAPIKey: hashAPIKey(in.APIKey),
		InputTokens:  inputEstimate,
		OutputTokens: outputEstimate,
		Estimated:    true,
		CostUSD:      cost,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return TokenRecord{}, fmt.Errorf("budget: track provisional usage: %w", err)
	}
	return rec, nil
}

// FinalizeTokenUsage replaces a provisional row with exact counts once the
// Gateway reports real usage.
func (l *Ledger) FinalizeTokenUsage(ctx context.Context, rec TokenRecord, real model.Usage) error {
	cost, err := l.catalog.EstimateCost(rec.Provider, rec.Model, real.InputTokens, real.OutputTokens,
		real.CacheCreationInputTokens, real.CacheReadInputTokens)
	if err != nil {
		cost = rec.CostUSD
	}
	rec.InputTokens = real.InputTokens
	rec.OutputTokens = real.OutputTokens
	rec.CacheCreate = real.CacheCreationInputTokens
	rec.CacheRead = real.CacheReadInputTokens
	rec.Estimated = false
	rec.CostUSD = cost
	if err := l.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("budget: finalize token usage: %w", err)
	}
	return nil
}

// VoidProvisionalUsage deletes a provisional row on failure or cancellation.
func (l *Ledger) VoidProvisionalUsage(ctx context.Context, stepID string) error {
	if err := l.store.Delete(ctx, stepID); err != nil {
		return fmt.Errorf("budget: void provisional usage: %w", err)
	}
	return nil
}

// CheckCostLimit gates a chat's cumulative cost against limit, consulted
// pre-flight, between every step, and before remediation.
func (l *Ledger) CheckCostLimit(ctx context.Context, chatID string, limit float64) (Gate, error) {
	sum, err := l.store.SumCostByChat(ctx, chatID)
	if err != nil {
		return Gate{}, fmt.Errorf("budget: check cost limit: %w", err)
	}
	return gateFor(sum, limit), nil
}

// CheckDailyLimit gates today's cumulative ledger cost against limit.
func (l *Ledger) CheckDailyLimit(ctx context.Context, limit float64) (Gate, error) {
	sum, err := l.store.SumCostToday(ctx)
	if err != nil {
		return Gate{}, fmt.Errorf("budget: check daily limit: %w", err)
	}
	return gateFor(sum, limit), nil
}

// CheckProjectLimit gates a project's cumulative cost against limit.
func (l *Ledger) CheckProjectLimit(ctx context.Context, projectID string, limit float64) (Gate, error) {
	sum, err := l.store.SumCostByProject(ctx, projectID)
	if err != nil {
		return Gate{}, fmt.Errorf("budget: check project limit: %w", err)
	}
	return gateFor(sum, limit), nil
}

// Reconcile recomputes every permanent-ledger row's cost from the current
// catalog, using each row's stored cache-creation and cache-read columns.
// Rows without cache columns are re-priced with zero cache tokens; no cache
// tokens are inferred from a row's totals. Rows whose price lookup fails or
// whose cost is unchanged are skipped.
func (l *Ledger) Reconcile(ctx context.Context) (int, error) {
	rows, err := l.store.ForReconciliation(ctx)
	if err != nil {
		return 0, fmt.Errorf("budget: reconcile: load rows: %w", err)
	}
	updated := 0
	for _, rec := range rows {
		cost, err := l.catalog.EstimateCost(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens, rec.CacheCreate, rec.CacheRead)
		if err != nil {
			continue
		}
		if cost == rec.CostUSD {
			continue
		}
		rec.CostUSD = cost
		if err := l.store.UpdateReconciled(ctx, rec); err != nil {
			return updated, fmt.Errorf("budget: reconcile: update row %s: %w", rec.StepID, err)
		}
		updated++
	}
	return updated, nil
}

func hashAPIKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
