package review

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyTreatsJSONPassStatusAsClean(t *testing.T) {
	f := Classify("code-review", `{"status":"pass"}`)
	require.False(t, f.Failing)
}

func TestClassifyTreatsEmptyOutputAsClean(t *testing.T) {
	f := Classify("qa", "   \n  ")
	require.False(t, f.Failing)
}

func TestClassifyTreatsPassPhraseAsClean(t *testing.T) {
	f := Classify("security", "Scan complete: zero security vulnerabilities found.")
	require.False(t, f.Failing)
}

func TestClassifyDetectsFailMarkers(t *testing.T) {
	cases := []string{
		`{"status":"fail","issues":[]}`,
		"[FAIL] missing null check",
		"This is a critical issue that must be fixed.",
		"Severity: High — SQL injection in query builder",
	}
	for _, out := range cases {
		f := Classify("code-review", out)
		require.True(t, f.Failing, "expected failing classification for %q", out)
	}
}

func TestClassifyExtractsRoutingHintTags(t *testing.T) {
	f := Classify("qa", "[Backend] the /users endpoint 500s. must fix before release.")
	require.True(t, f.Failing)
	require.Equal(t, []Hint{HintBackend}, f.Hints)
}

func TestClassifyDedupsRepeatedHintTags(t *testing.T) {
	f := Classify("qa", "[frontend] issue one. [FRONTEND] issue two. must fix.")
	require.Equal(t, []Hint{HintFrontend}, f.Hints)
}

func TestEvaluateAggregatesHasIssuesAcrossReviewers(t *testing.T) {
	findings := Evaluate(map[string]string{
		"code-review": `{"status":"pass"}`,
		"qa":          "must fix: broken button",
		"security":    `{"status":"pass"}`,
	})
	require.True(t, findings.HasIssues)
	require.False(t, findings.ByAgent["code-review"].Failing)
	require.True(t, findings.ByAgent["qa"].Failing)
}

func TestRoutingHintsDefaultsToFrontendWhenNoneTagged(t *testing.T) {
	findings := Findings{HasIssues: true, ByAgent: map[string]Finding{
		"qa": {Reviewer: "qa", Failing: true, Output: "must fix this untagged bug"},
	}}
	require.Equal(t, []Hint{HintFrontend}, findings.RoutingHints())
}

func TestRoutingHintsReturnsEmptyWhenNoIssues(t *testing.T) {
	findings := Findings{HasIssues: false, ByAgent: map[string]Finding{
		"qa": {Reviewer: "qa", Failing: false},
	}}
	require.Empty(t, findings.RoutingHints())
}

func TestFailingOutputsOnlyIncludesFailingReviewers(t *testing.T) {
	findings := Evaluate(map[string]string{
		"code-review": `{"status":"pass"}`,
		"qa":          "must fix: broken button",
	})
	out := findings.FailingOutputs()
	require.Len(t, out, 1)
	require.Contains(t, out["qa"], "broken button")
}
