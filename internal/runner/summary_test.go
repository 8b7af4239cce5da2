package runner

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/agent"
)

func TestSummarizeUsesJSONFieldForResearch(t *testing.T) {
	text := "Some analysis text.\n```json\n{\"summary\": \"Found 3 reusable components\", \"features\": []}\n```\n"
	cleaned, summary := summarize(agent.Research, text)
	require.Equal(t, "Some analysis text.", cleaned)
	require.Equal(t, "Found 3 reusable components", summary)
}

func TestSummarizeFallsBackToFirstSentence(t *testing.T) {
	cleaned, summary := summarize(agent.FrontendDev, "Wrote the header component. It renders the nav bar.")
	require.Equal(t, "Wrote the header component. It renders the nav bar.", cleaned)
	require.Equal(t, "Wrote the header component.", summary)
}

func TestSummarizeTruncatesLongSummary(t *testing.T) {
	_, summary := summarize(agent.FrontendDev, strings.Repeat("a", 200))
	require.LessOrEqual(t, utf8.RuneCountInString(summary), summaryCapChars)
	require.True(t, strings.HasSuffix(summary, "…"))
}
