package remediation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/review"
)

type fakeFixer struct {
	calls []agent.Ident
}

func (f *fakeFixer) RunFixer(_ context.Context, fixer agent.Ident, _ string) (string, error) {
	f.calls = append(f.calls, fixer)
	return "fixed", nil
}

// fakeReviewer reports clean when cleanAfter is zero, otherwise keeps
// reporting the same failing output every cycle so Controller.Run exhausts
// MaxCycles.
type fakeReviewer struct {
	cleanAfter     int
	failingOutputs map[string]string
}

func (r *fakeReviewer) RunReviewer(_ context.Context, reviewer agent.Ident) (string, error) {
	if r.cleanAfter == 0 {
		return `{"status":"pass"}`, nil
	}
	return r.failingOutputs[string(reviewer)], nil
}

type fakeCost struct {
	allowed bool
}

func (c fakeCost) CheckCostLimit(context.Context, string, float64) (budget.Gate, error) {
	return budget.Gate{Allowed: c.allowed}, nil
}

func failingFindings(hint review.Hint) review.Findings {
	_ = hint
	return review.Evaluate(map[string]string{
		"code-review": `{"status":"pass"}`,
		"qa":          "[frontend] must fix broken layout",
		"security":    `{"status":"pass"}`,
	})
}

func TestRunSkipsCyclesWhenFirstFindingsAreClean(t *testing.T) {
	c := New(&fakeFixer{}, &fakeReviewer{}, fakeCost{allowed: true})
	res, err := c.Run(context.Background(), Input{FirstFindings: review.Findings{HasIssues: false}})
	require.NoError(t, err)
	require.Empty(t, res.Cycles)
	require.False(t, res.StillFailing)
}

func TestRunDispatchesHintedFixerAndStopsOnCleanReReview(t *testing.T) {
	fixer := &fakeFixer{}
	reviewer := &fakeReviewer{cleanAfter: 0}
	c := New(fixer, reviewer, fakeCost{allowed: true})

	res, err := c.Run(context.Background(), Input{FirstFindings: failingFindings(review.HintFrontend)})
	require.NoError(t, err)
	require.False(t, res.StillFailing)
	require.Len(t, res.Cycles, 1)
	require.Equal(t, []agent.Ident{agent.FrontendDev}, fixer.calls)
}

func TestRunStopsAfterMaxCyclesStillFailing(t *testing.T) {
	fixer := &fakeFixer{}
	reviewer := &fakeReviewer{cleanAfter: MaxCycles + 1, failingOutputs: map[string]string{
		"code-review": `{"status":"pass"}`,
		"qa":          "must fix broken layout",
		"security":    `{"status":"pass"}`,
	}}
	c := New(fixer, reviewer, fakeCost{allowed: true})

	res, err := c.Run(context.Background(), Input{FirstFindings: failingFindings(review.HintFrontend)})
	require.NoError(t, err)
	require.True(t, res.StillFailing)
	require.Len(t, res.Cycles, MaxCycles)
}

func TestRunPausesWhenCostLimitExceededBetweenCycles(t *testing.T) {
	fixer := &fakeFixer{}
	reviewer := &fakeReviewer{cleanAfter: 0}
	c := New(fixer, reviewer, fakeCost{allowed: false})

	res, err := c.Run(context.Background(), Input{FirstFindings: failingFindings(review.HintFrontend)})
	require.NoError(t, err)
	require.True(t, res.Paused)
	require.True(t, res.StillFailing)
	require.Empty(t, fixer.calls)
}

func TestSelectFixersDefaultsToFrontendDevWithNoHints(t *testing.T) {
	findings := review.Findings{HasIssues: true, ByAgent: map[string]review.Finding{
		"qa": {Reviewer: "qa", Failing: true, Output: "untagged bug"},
	}}
	require.Equal(t, []agent.Ident{agent.FrontendDev}, selectFixers(findings))
}
