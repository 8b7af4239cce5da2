package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/budget"
)

func TestInsertRejectsDuplicateStepID(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "step-1", ChatID: "chat-1", CostUSD: 0.1}))
	err := s.Insert(ctx, budget.TokenRecord{StepID: "step-1", ChatID: "chat-1", CostUSD: 0.2})
	require.Error(t, err)
}

func TestUpdateOverwritesExistingRecord(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "step-1", ChatID: "chat-1", CostUSD: 0.1, Estimated: true}))
	require.NoError(t, s.Update(ctx, budget.TokenRecord{StepID: "step-1", ChatID: "chat-1", CostUSD: 0.05, Estimated: false}))

	sum, err := s.SumCostByChat(ctx, "chat-1")
	require.NoError(t, err)
	require.InDelta(t, 0.05, sum, 0.0001)
}

func TestSumCostByChatOnlySumsMatchingChat(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s1", ChatID: "chat-1", CostUSD: 1}))
	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s2", ChatID: "chat-2", CostUSD: 5}))

	sum, err := s.SumCostByChat(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, 1.0, sum)
}

func TestSumCostByProjectOnlySumsMatchingProject(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s1", ProjectID: "proj-1", CostUSD: 2}))
	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s2", ProjectID: "proj-2", CostUSD: 3}))

	sum, err := s.SumCostByProject(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, 2.0, sum)
}

func TestSumCostTodayExcludesOlderRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "today", CostUSD: 1, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "yesterday", CostUSD: 10, CreatedAt: time.Now().UTC().AddDate(0, 0, -1)}))

	sum, err := s.SumCostToday(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, sum)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s1", ChatID: "chat-1", CostUSD: 1}))
	require.NoError(t, s.Delete(ctx, "s1"))

	sum, err := s.SumCostByChat(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, 0.0, sum)
}

func TestForReconciliationReturnsAllRows(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s1", Estimated: true}))
	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s2", Estimated: false}))

	rows, err := s.ForReconciliation(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestUpdateReconciledPersistsFinalValues(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, budget.TokenRecord{StepID: "s1", ChatID: "chat-1", CostUSD: 0.5, Estimated: true}))
	require.NoError(t, s.UpdateReconciled(ctx, budget.TokenRecord{StepID: "s1", ChatID: "chat-1", CostUSD: 0.42, Estimated: false}))

	sum, err := s.SumCostByChat(ctx, "chat-1")
	require.NoError(t, err)
	require.InDelta(t, 0.42, sum, 0.0001)
}
