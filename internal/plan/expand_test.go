package plan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandFrontendSplitBucketsAndRewires(t *testing.T) {
	d := BuildExecutionPlan("Build a dashboard", "", IntentBuild, ScopeFull)

	filePlan := `{"file_plan":[
		{"action":"create","path":"components/Header.tsx"},
		{"action":"create","path":"components/Footer.tsx"},
		{"action":"create","path":"components/Card.tsx"},
		{"action":"create","path":"components/Nav.tsx"},
		{"action":"create","path":"components/Sidebar.tsx"},
		{"action":"create","path":"hooks/useAuth.ts"},
		{"action":"create","path":"App.tsx"}
	]}`

	out, err := ExpandFrontendSplit(d, filePlan)
	require.NoError(t, err)

	for _, id := range []string{"frontend-dev-shared", "frontend-dev-1", "frontend-dev-2", "frontend-dev-app"} {
		_, ok := out.StepByID(id)
		require.Truef(t, ok, "expected step %s in expanded DAG", id)
	}

	app, ok := out.StepByID("frontend-dev-app")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"frontend-dev-shared", "frontend-dev-1", "frontend-dev-2"}, app.DependsOn)

	styling, ok := out.StepByID("styling")
	require.True(t, ok)
	require.Equal(t, []string{"frontend-dev-app"}, styling.DependsOn)

	for _, id := range []string{"frontend-dev-shared", "frontend-dev-1", "frontend-dev-2"} {
		s, _ := out.StepByID(id)
		require.Equal(t, []string{"architect"}, s.DependsOn)
	}
}

func TestExpandFrontendSplitCapsAtFourBatches(t *testing.T) {
	d := BuildExecutionPlan("Build a big app", "", IntentBuild, ScopeFull)

	var entries []string
	for i := 0; i < 20; i++ {
		entries = append(entries, fmt.Sprintf(`{"action":"create","path":"components/C%d.tsx"}`, i))
	}
	filePlan := `{"file_plan":[` + strings.Join(entries, ",") + `]}`

	out, err := ExpandFrontendSplit(d, filePlan)
	require.NoError(t, err)

	for i := 1; i <= maxComponentBatches; i++ {
		_, ok := out.StepByID(fmt.Sprintf("frontend-dev-%d", i))
		require.True(t, ok)
	}
	_, ok := out.StepByID("frontend-dev-5")
	require.False(t, ok)
}

func TestExpandFrontendSplitNoOpWithoutFilePlan(t *testing.T) {
	d := BuildExecutionPlan("Build a landing page", "", IntentBuild, ScopeFull)
	out, err := ExpandFrontendSplit(d, "")
	require.NoError(t, err)
	require.Equal(t, d, out)
}
