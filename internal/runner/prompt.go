package runner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// buildPrompt assembles the four-section user prompt.
func buildPrompt(in Input) string {
	var b strings.Builder

	if len(in.ChatHistory) > 0 {
		b.WriteString("## Chat History\n")
		b.WriteString(renderHistory(in.ChatHistory))
		b.WriteString("\n\n")
	}

	if len(in.Context) > 0 {
		b.WriteString("## Context\n")
		if raw, err := json.MarshalIndent(in.Context, "", "  "); err == nil {
			b.Write(raw)
		}
		b.WriteString("\n\n")
	}

	if len(in.UpstreamOutputs) > 0 {
		b.WriteString("## Previous Agent Outputs\n")
		keys := make([]string, 0, len(in.UpstreamOutputs))
		for k := range in.UpstreamOutputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "### %s\n%s\n\n", k, in.UpstreamOutputs[k])
		}
	}

	b.WriteString("## Current Request\n")
	b.WriteString(in.UserMessage)

	return b.String()
}

// renderHistory formats the most recent historyCapMessages entries, then
// caps the rendered block at historyCapChars, trimming from the oldest
// retained message forward.
func renderHistory(history []HistoryMessage) string {
	start := 0
	if len(history) > historyCapMessages {
		start = len(history) - historyCapMessages
	}
	recent := history[start:]

	var b strings.Builder
	for i, m := range recent {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	rendered := b.String()
	if len(rendered) <= historyCapChars {
		return rendered
	}
	return rendered[len(rendered)-historyCapChars:]
}
