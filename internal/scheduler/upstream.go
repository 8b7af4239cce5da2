package scheduler

import (
	"sort"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/plan"
)

// UpstreamCap bounds each upstream value handed to a step's prompt.
const UpstreamCap = 10_000

// TruncateUpstream elides the middle of s when it exceeds UpstreamCap,
// keeping the head and tail so a step still sees both the framing and the
// conclusion of a long upstream output.
func TruncateUpstream(s string) string {
	if len(s) <= UpstreamCap {
		return s
	}
	half := (UpstreamCap - len(elision)) / 2
	return s[:half] + elision + s[len(s)-half:]
}

const elision = "\n...[truncated]...\n"

var reviewerIdents = map[agent.Ident]struct{}{
	agent.CodeReview: {},
	agent.Security:   {},
	agent.QA:         {},
}

// isReviewer reports whether id is one of the three review agents, which
// receive the restricted upstream filter.
func isReviewer(id agent.Ident) bool {
	_, ok := reviewerIdents[id]
	return ok
}

// defaultUpstream pulls step's direct dependency outputs verbatim
// (truncated), the ordinary case for dev/styling steps.
func defaultUpstream(step plan.Step, outputs map[string]string) map[string]string {
	out := make(map[string]string, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if v, ok := outputs[dep]; ok {
			out[dep] = TruncateUpstream(v)
		}
	}
	return out
}

// reviewerUpstream restricts a reviewer's prompt to the architect's plan
// and a manifest of files the dev/styling steps wrote, never the raw dev
// output.
func reviewerUpstream(outputs map[string]string, manifest string) map[string]string {
	out := make(map[string]string, 2)
	if v, ok := outputs[string(agent.Architect)]; ok {
		out["architect"] = TruncateUpstream(v)
	}
	if manifest != "" {
		out["project-source"] = TruncateUpstream(manifest)
	}
	return out
}

// remediationUpstream restricts a fixer's prompt to the architect's plan
// and the three reviewer outputs, never prior dev output or raw project
// source.
func remediationUpstream(outputs map[string]string) map[string]string {
	out := make(map[string]string, 4)
	if v, ok := outputs[string(agent.Architect)]; ok {
		out["architect"] = TruncateUpstream(v)
	}
	for _, reviewer := range []agent.Ident{agent.CodeReview, agent.Security, agent.QA} {
		if v, ok := outputs[string(reviewer)]; ok {
			out[string(reviewer)] = TruncateUpstream(v)
		}
	}
	return out
}

// reReviewUpstream restricts a re-review pass to the architect's plan only.
func reReviewUpstream(outputs map[string]string) map[string]string {
	out := make(map[string]string, 1)
	if v, ok := outputs[string(agent.Architect)]; ok {
		out["architect"] = TruncateUpstream(v)
	}
	return out
}

// manifestEntry records one file a dev/styling step wrote, accumulated
// purely from StepResult.FilesWritten so reviewer upstream never needs a
// fresh sandbox listing inside the replay-sensitive workflow body.
type manifestEntry struct {
	Path  string
	Agent string
}

// renderManifest renders entries as a flat listing, sorted by path for
// determinism across identical replays.
func renderManifest(entries []manifestEntry) string {
	if len(entries) == 0 {
		return ""
	}
	sorted := append([]manifestEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	b.WriteString("Files written so far:\n")
	for _, e := range sorted {
		b.WriteString("- " + e.Path + " (" + e.Agent + ")\n")
	}
	return b.String()
}
