package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/engine"
)

func TestNewRequiresTaskQueue(t *testing.T) {
	_, err := New(Options{})
	require.ErrorContains(t, err, "task queue")
}

func TestNewRequiresClientOrClientOptions(t *testing.T) {
	_, err := New(Options{WorkerOptions: WorkerOptions{TaskQueue: "q"}})
	require.ErrorContains(t, err, "client options")
}

func TestConvertRetryPolicyReturnsNilForZeroValue(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicyCopiesSetFields(t *testing.T) {
	p := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second, BackoffCoefficient: 2})
	require.NotNil(t, p)
	require.EqualValues(t, 5, p.MaximumAttempts)
	require.Equal(t, time.Second, p.InitialInterval)
	require.Equal(t, 2.0, p.BackoffCoefficient)
}

func TestMergeRetryPoliciesOverridesOnlySetFields(t *testing.T) {
	base := engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 1.5}
	merged := mergeRetryPolicies(base, engine.RetryPolicy{MaxAttempts: 7})
	require.Equal(t, 7, merged.MaxAttempts)
	require.Equal(t, time.Second, merged.InitialInterval)
	require.Equal(t, 1.5, merged.BackoffCoefficient)
}
