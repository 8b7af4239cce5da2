package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/plan"
)

func TestTruncateUpstreamLeavesShortValuesAlone(t *testing.T) {
	require.Equal(t, "short", TruncateUpstream("short"))
}

func TestTruncateUpstreamElidesLongValues(t *testing.T) {
	long := strings.Repeat("a", UpstreamCap*2)
	out := TruncateUpstream(long)
	require.LessOrEqual(t, len(out), UpstreamCap+len(elision))
	require.Contains(t, out, "[truncated]")
	require.True(t, strings.HasPrefix(out, "aaa"))
	require.True(t, strings.HasSuffix(out, "aaa"))
}

func TestDefaultUpstreamPullsOnlyDeclaredDependencies(t *testing.T) {
	step := plan.Step{ID: "styling", DependsOn: []string{"frontend-dev"}}
	outputs := map[string]string{"frontend-dev": "built the header", "architect": "file plan"}
	out := defaultUpstream(step, outputs)
	require.Equal(t, map[string]string{"frontend-dev": "built the header"}, out)
}

func TestReviewerUpstreamExcludesRawDevOutput(t *testing.T) {
	outputs := map[string]string{
		string(agent.Architect):  "file plan",
		string(agent.FrontendDev): "raw dev output",
	}
	out := reviewerUpstream(outputs, "Files written so far:\n- src/App.tsx (frontend-dev)\n")
	require.Equal(t, "file plan", out["architect"])
	require.Contains(t, out["project-source"], "src/App.tsx")
	require.NotContains(t, out, string(agent.FrontendDev))
}

func TestRemediationUpstreamIncludesArchitectAndReviewersOnly(t *testing.T) {
	outputs := map[string]string{
		string(agent.Architect):   "file plan",
		string(agent.CodeReview):  "[fail] missing tests",
		string(agent.Security):    "pass",
		string(agent.QA):          "pass",
		string(agent.FrontendDev): "raw dev output",
	}
	out := remediationUpstream(outputs)
	require.ElementsMatch(t, []string{"architect", "code-review", "security", "qa"}, keysOf(out))
}

func TestReReviewUpstreamIsArchitectOnly(t *testing.T) {
	outputs := map[string]string{
		string(agent.Architect):  "file plan",
		string(agent.CodeReview): "[fail] missing tests",
	}
	out := reReviewUpstream(outputs)
	require.Equal(t, map[string]string{"architect": "file plan"}, out)
}

func TestIsReviewer(t *testing.T) {
	require.True(t, isReviewer(agent.CodeReview))
	require.True(t, isReviewer(agent.Security))
	require.True(t, isReviewer(agent.QA))
	require.False(t, isReviewer(agent.FrontendDev))
}

func keysOf(m map[string]string) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
