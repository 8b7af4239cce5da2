package runner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/agent"
)

// trailingJSONBlock matches a fenced ```json ... ``` block anchored at the
// end of the text (optionally followed by trailing whitespace).
var trailingJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```\\s*$")

// summaryJSONFields lists, in priority order, the JSON fields research and
// architect responses use to carry a human summary.
var summaryJSONFields = []string{"summary", "overview", "description"}

// summarize strips a trailing JSON summary block from text and derives the
// UI summary line, returning the cleaned text
// alongside the summary.
func summarize(agentKey agent.Ident, text string) (cleaned string, summary string) {
	cleaned = text
	var parsed map[string]any

	if m := trailingJSONBlock.FindStringSubmatch(text); m != nil {
		var doc map[string]any
		if err := json.Unmarshal([]byte(m[1]), &doc); err == nil {
			parsed = doc
			cleaned = strings.TrimSpace(strings.TrimSuffix(text, m[0]))
		}
	}

	if parsed != nil && (agentKey == agent.Research || agentKey == agent.Architect) {
		for _, field := range summaryJSONFields {
			if v, ok := parsed[field].(string); ok && strings.TrimSpace(v) != "" {
				return cleaned, truncateSummary(v)
			}
		}
	}

	return cleaned, truncateSummary(firstSentence(cleaned))
}

// firstSentence returns the first natural-language sentence of text.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	idx := strings.IndexAny(text, ".!?\n")
	if idx < 0 {
		return text
	}
	return text[:idx+1]
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= summaryCapChars {
		return s
	}
	if summaryCapChars <= 1 {
		return s[:summaryCapChars]
	}
	return strings.TrimSpace(s[:summaryCapChars-1]) + "…"
}
