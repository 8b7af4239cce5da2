package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/gateway"
	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/runner"
)

func TestClassifyFatalCases(t *testing.T) {
	cases := []error{
		fmt.Errorf("wrap: %w", gateway.ErrProviderUnavailable),
		fmt.Errorf("wrap: %w", providers.ErrUnknownProvider),
		fmt.Errorf("wrap: %w", runner.ErrNoProvider),
		errors.New("anthropic api error: 401 authentication_error"),
	}
	for _, err := range cases {
		require.Equal(t, ClassFatal, Classify(err), err)
	}
}

func TestClassifyRetriableCases(t *testing.T) {
	cases := []error{
		fmt.Errorf("wrap: %w", gateway.ErrAgentAborted),
		fmt.Errorf("wrap: %w", gateway.ErrToolLoopExceeded),
		fmt.Errorf("wrap: %w", model.ErrRateLimited),
		context.DeadlineExceeded,
		errors.New("temporary network blip"),
	}
	for _, err := range cases {
		require.Equal(t, ClassRetriable, Classify(err), err)
	}
}

func TestClassifyCancelled(t *testing.T) {
	require.Equal(t, ClassCancelled, Classify(context.Canceled))
	require.Equal(t, ClassCancelled, Classify(fmt.Errorf("wrap: %w", gateway.ErrCancelled)))
}
