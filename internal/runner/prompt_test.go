package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPromptIncludesAllSections(t *testing.T) {
	in := Input{
		UserMessage:     "Add a login page",
		ChatHistory:     []HistoryMessage{{Role: "user", Content: "build a todo app"}},
		Context:         map[string]any{"scope": "full"},
		UpstreamOutputs: map[string]string{"architect": "file plan: ..."},
	}
	prompt := buildPrompt(in)

	require.Contains(t, prompt, "## Chat History")
	require.Contains(t, prompt, "## Context")
	require.Contains(t, prompt, "## Previous Agent Outputs")
	require.Contains(t, prompt, "### architect")
	require.Contains(t, prompt, "## Current Request")
	require.Contains(t, prompt, "Add a login page")
}

func TestRenderHistoryCapsMessageCount(t *testing.T) {
	var history []HistoryMessage
	for i := 0; i < 10; i++ {
		history = append(history, HistoryMessage{Role: "user", Content: "message"})
	}
	rendered := renderHistory(history)
	require.Equal(t, historyCapMessages, strings.Count(rendered, "user: message"))
}

func TestRenderHistoryCapsCharCount(t *testing.T) {
	history := []HistoryMessage{{Role: "user", Content: strings.Repeat("x", historyCapChars*2)}}
	rendered := renderHistory(history)
	require.LessOrEqual(t, len(rendered), historyCapChars)
}
