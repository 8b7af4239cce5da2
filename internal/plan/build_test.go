package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(d DAG) []string {
	out := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		out[i] = s.ID
	}
	return out
}

func TestBuildDAGNoBackend(t *testing.T) {
	d := BuildExecutionPlan("Build a landing page", "", IntentBuild, ScopeFull)
	require.Equal(t, []string{"architect", "frontend-dev", "styling", "code-review", "security", "qa"}, ids(d))

	styling, ok := d.StepByID("styling")
	require.True(t, ok)
	require.Equal(t, []string{"frontend-dev"}, styling.DependsOn)
}

func TestBuildDAGWithBackend(t *testing.T) {
	research := `{"features":[{"name":"api","requires_backend":true}]}`
	d := BuildExecutionPlan("Build a dashboard", research, IntentBuild, ScopeFull)

	require.Equal(t, []string{"architect", "frontend-dev", "backend-dev", "styling", "code-review", "security", "qa"}, ids(d))

	styling, ok := d.StepByID("styling")
	require.True(t, ok)
	require.Equal(t, []string{"backend-dev"}, styling.DependsOn)

	for _, name := range []string{"code-review", "security", "qa"} {
		s, ok := d.StepByID(name)
		require.True(t, ok)
		require.Equal(t, []string{"styling"}, s.DependsOn)
	}
}

func TestBuildDAGEveryStepEmbedsUserMessage(t *testing.T) {
	d := BuildExecutionPlan("Add a pricing page", "", IntentBuild, ScopeFull)
	for _, s := range d.Steps {
		require.Equal(t, "Add a pricing page", s.UserMessage)
	}
}

func TestFixDAGFrontendScopeOmitsBackendAndStyling(t *testing.T) {
	d := BuildExecutionPlan("Fix the button", "", IntentFix, ScopeFrontend)
	require.Equal(t, []string{"testing", "frontend-dev", "code-review", "security", "qa", "remediation"}, ids(d))
}

func TestFixDAGStylingScopeOmitsDevAgents(t *testing.T) {
	d := BuildExecutionPlan("Fix the colors", "", IntentFix, ScopeStyling)
	require.Equal(t, []string{"testing", "styling", "code-review", "security", "qa", "remediation"}, ids(d))
}

func TestFixDAGFullScopeRunsBothDevAgents(t *testing.T) {
	d := BuildExecutionPlan("Fix everything", "", IntentFix, ScopeFull)
	require.Equal(t, []string{"testing", "frontend-dev", "backend-dev", "styling", "code-review", "security", "qa", "remediation"}, ids(d))
}

func TestFixDAGBackendScopeOmitsFrontendAndStyling(t *testing.T) {
	d := BuildExecutionPlan("Fix the API", "", IntentFix, ScopeBackend)
	require.Equal(t, []string{"testing", "backend-dev", "code-review", "security", "qa", "remediation"}, ids(d))
}

func TestQuestionDAGSingleNode(t *testing.T) {
	d := BuildExecutionPlan("What does this app do?", "", IntentQuestion, ScopeFull)
	require.Len(t, d.Steps, 1)
	require.Equal(t, "orchestrator-question", d.Steps[0].ID)
}

func TestPlanningTwiceIsStructurallyIdentical(t *testing.T) {
	a := BuildExecutionPlan("Build a blog", `{"features":[{"requires_backend":true}]}`, IntentBuild, ScopeFull)
	b := BuildExecutionPlan("Build a blog", `{"features":[{"requires_backend":true}]}`, IntentBuild, ScopeFull)
	require.Equal(t, a, b)
}

func TestNeedsBackend(t *testing.T) {
	require.False(t, needsBackend(""))
	require.False(t, needsBackend(`{"features":[]}`))
	require.False(t, needsBackend("no backend needed"))
	require.False(t, needsBackend("needs a REST endpoint"))
	require.True(t, needsBackend("uses express server"))
}
