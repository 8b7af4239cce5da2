package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/model"
)

type fakeStreamClient struct {
	err   error
	calls int
}

func (f *fakeStreamClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	f.calls++
	return nil, f.err
}

func TestAdaptiveRateLimiterBacksOffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	initial := limiter.currentTPM

	client := &fakeStreamClient{err: model.ErrRateLimited}
	wrapped := limiter.Wrap(client)

	_, err := wrapped.Stream(context.Background(), &model.Request{})
	require.True(t, errors.Is(err, model.ErrRateLimited))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Less(t, limiter.currentTPM, initial)
	require.GreaterOrEqual(t, limiter.currentTPM, limiter.minTPM)
}

func TestAdaptiveRateLimiterProbesUpOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	limiter.mu.Lock()
	limiter.currentTPM = 30000
	limiter.mu.Unlock()

	client := &fakeStreamClient{}
	wrapped := limiter.Wrap(client)

	_, err := wrapped.Stream(context.Background(), &model.Request{})
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Greater(t, limiter.currentTPM, 30000.0)
	require.LessOrEqual(t, limiter.currentTPM, limiter.maxTPM)
}

func TestAdaptiveRateLimiterClampsMaxTPMToInitialWhenLower(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 1000)
	require.Equal(t, 60000.0, limiter.maxTPM)
}

func TestAdaptiveRateLimiterWrapReturnsNilForNilClient(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	require.Nil(t, limiter.Wrap(nil))
}

func TestEstimateTokensHasMinimumFloor(t *testing.T) {
	require.Equal(t, 500, estimateTokens(&model.Request{}))
}

func TestEstimateTokensGrowsWithMessageText(t *testing.T) {
	short := estimateTokens(&model.Request{Messages: []model.Message{{Text: "hi"}}})
	long := estimateTokens(&model.Request{Messages: []model.Message{{Text: string(make([]byte, 3000))}}})
	require.Greater(t, long, short)
}
