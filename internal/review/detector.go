// Package review implements the Review Detector: classifies
// code-review/qa/security outputs as clean or failing and extracts routing
// hints for the Remediation Controller.
package review

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Hint names a fixer agent the Remediation Controller may dispatch.
type Hint string

const (
	HintFrontend Hint = "frontend"
	HintBackend  Hint = "backend"
	HintStyling  Hint = "styling"
)

// Finding is one reviewer's classified output.
type Finding struct {
	Reviewer string
	Failing  bool
	Output   string
	Hints    []Hint
}

// Findings aggregates the three reviewers (code-review, qa, security).
type Findings struct {
	HasIssues bool
	ByAgent   map[string]Finding
}

var passPhrases = []string{
	"qa review: pass",
	"passed with no issues",
	"zero security vulnerabilities",
	"safe for production",
}

var failMarkers = []string{
	`"status":"fail"`,
	"[fail]",
	"critical issue",
	"must fix",
	"severity: critical",
	"severity: high",
}

var hintTag = regexp.MustCompile(`(?i)\[(frontend|backend|styling)\]`)

type statusDoc struct {
	Status string `json:"status"`
}

// Classify evaluates one reviewer's raw output: clean if it parses as JSON
// with status "pass", matches a pass phrase, or is empty/whitespace; failing
// if it contains any fail marker.
func Classify(reviewer, output string) Finding {
	trimmed := strings.TrimSpace(output)
	f := Finding{Reviewer: reviewer, Output: output, Hints: extractHints(output)}

	if trimmed == "" {
		return f
	}

	var doc statusDoc
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil && strings.EqualFold(doc.Status, "pass") {
		return f
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range failMarkers {
		if strings.Contains(lower, marker) {
			f.Failing = true
			return f
		}
	}
	for _, phrase := range passPhrases {
		if strings.Contains(lower, phrase) {
			return f
		}
	}
	return f
}

func extractHints(output string) []Hint {
	matches := hintTag.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[Hint]struct{})
	var hints []Hint
	for _, m := range matches {
		h := Hint(strings.ToLower(m[1]))
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hints = append(hints, h)
	}
	return hints
}

// Evaluate classifies all three reviewer outputs keyed by agent ident
// string ("code-review", "qa", "security").
func Evaluate(outputs map[string]string) Findings {
	res := Findings{ByAgent: make(map[string]Finding, len(outputs))}
	for reviewer, output := range outputs {
		f := Classify(reviewer, output)
		res.ByAgent[reviewer] = f
		if f.Failing {
			res.HasIssues = true
		}
	}
	return res
}

// RoutingHints collects the union of hints across every failing reviewer,
// defaulting to frontend-dev when no reviewer tagged a hint.
func (f Findings) RoutingHints() []Hint {
	seen := make(map[Hint]struct{})
	var hints []Hint
	for _, finding := range f.ByAgent {
		if !finding.Failing {
			continue
		}
		for _, h := range finding.Hints {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			hints = append(hints, h)
		}
	}
	if len(hints) == 0 && f.HasIssues {
		return []Hint{HintFrontend}
	}
	return hints
}

// FailingOutputs returns the raw output of every failing reviewer, keyed by
// reviewer ident. The result is a map and carries no ordering.
func (f Findings) FailingOutputs() map[string]string {
	out := make(map[string]string)
	for reviewer, finding := range f.ByAgent {
		if finding.Failing {
			out[reviewer] = finding.Output
		}
	}
	return out
}
