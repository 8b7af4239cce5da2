// Package remediation implements the Remediation Controller:
// given failing review findings, dispatches fixer agents selected from
// routing hints, re-runs the three reviewers, and repeats up to
// MaxCycles times.
package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/review"
)

// MaxCycles bounds remediation cycles.
const MaxCycles = 1

// hintAgents maps a routing hint to the fixer agent it selects.
var hintAgents = map[review.Hint]agent.Ident{
	review.HintFrontend: agent.FrontendDev,
	review.HintBackend:  agent.BackendDev,
	review.HintStyling:  agent.Styling,
}

// ReviewerIdents lists the three reviewers in the stable order findings are
// concatenated and re-run.
var ReviewerIdents = []agent.Ident{agent.CodeReview, agent.Security, agent.QA}

type (
	// FixerRunner dispatches one fixer agent with a remediation input and
	// returns its raw response text.
	FixerRunner interface {
		RunFixer(ctx context.Context, fixer agent.Ident, input string) (string, error)
	}

	// ReviewerRunner re-runs one reviewer agent under the re-review upstream
	// filter (architect output only) and returns its raw output.
	ReviewerRunner interface {
		RunReviewer(ctx context.Context, reviewer agent.Ident) (string, error)
	}

	// CostChecker gates each cycle against the chat's cost limit.
	CostChecker interface {
		CheckCostLimit(ctx context.Context, chatID string, limit float64) (budget.Gate, error)
	}

	// Controller runs the remediation loop.
	Controller struct {
		Fixer    FixerRunner
		Reviewer ReviewerRunner
		Cost     CostChecker
	}

	// Input describes one remediation run.
	Input struct {
		ChatID       string
		CostLimit    float64
		FirstFindings review.Findings
	}

	// CycleResult records the outcome of one remediation cycle.
	CycleResult struct {
		Cycle    int
		Fixers   []agent.Ident
		Findings review.Findings
	}

	// Result is the outcome of the whole remediation run.
	Result struct {
		Cycles       []CycleResult
		FinalFindings review.Findings
		Paused       bool
		StillFailing bool
	}
)

// New builds a Controller.
func New(fixer FixerRunner, reviewer ReviewerRunner, cost CostChecker) *Controller {
	return &Controller{Fixer: fixer, Reviewer: reviewer, Cost: cost}
}

// Run executes up to MaxCycles remediation cycles against in.FirstFindings,
// stopping early once a cycle's re-review comes back clean. A cost-limit
// breach between cycles pauses the loop rather than failing the pipeline.
func (c *Controller) Run(ctx context.Context, in Input) (Result, error) {
	findings := in.FirstFindings
	res := Result{FinalFindings: findings}
	if !findings.HasIssues {
		return res, nil
	}

	for cycle := 1; cycle <= MaxCycles; cycle++ {
		if c.Cost != nil {
			gate, err := c.Cost.CheckCostLimit(ctx, in.ChatID, in.CostLimit)
			if err != nil {
				return res, fmt.Errorf("remediation: check cost limit: %w", err)
			}
			if !gate.Allowed {
				res.Paused = true
				res.StillFailing = true
				return res, nil
			}
		}

		fixers := selectFixers(findings)
		input := buildRemediationInput(findings)

		for _, fixer := range fixers {
			if _, err := c.Fixer.RunFixer(ctx, fixer, input); err != nil {
				return res, fmt.Errorf("remediation: run fixer %s: %w", fixer, err)
			}
		}

		outputs := make(map[string]string, len(ReviewerIdents))
		for _, reviewer := range ReviewerIdents {
			out, err := c.Reviewer.RunReviewer(ctx, reviewer)
			if err != nil {
				return res, fmt.Errorf("remediation: re-run reviewer %s: %w", reviewer, err)
			}
			outputs[string(reviewer)] = out
		}
		findings = review.Evaluate(outputs)

		res.Cycles = append(res.Cycles, CycleResult{Cycle: cycle, Fixers: fixers, Findings: findings})
		res.FinalFindings = findings

		if !findings.HasIssues {
			return res, nil
		}
	}

	// Best-effort: exit after MaxCycles even if still failing, noted in the Summary rather than failing the pipeline.
	res.StillFailing = findings.HasIssues
	return res, nil
}

// selectFixers maps findings' routing hints to concrete fixer agents,
// defaulting to frontend-dev and deduplicating while preserving a stable
// frontend/backend/styling order.
func selectFixers(findings review.Findings) []agent.Ident {
	hints := findings.RoutingHints()
	seen := make(map[agent.Ident]struct{})
	var fixers []agent.Ident
	for _, h := range []review.Hint{review.HintFrontend, review.HintBackend, review.HintStyling} {
		if !containsHint(hints, h) {
			continue
		}
		fixer := hintAgents[h]
		if _, ok := seen[fixer]; ok {
			continue
		}
		seen[fixer] = struct{}{}
		fixers = append(fixers, fixer)
	}
	if len(fixers) == 0 {
		fixers = []agent.Ident{agent.FrontendDev}
	}
	return fixers
}

func containsHint(hints []review.Hint, h review.Hint) bool {
	for _, v := range hints {
		if v == h {
			return true
		}
	}
	return false
}

// buildRemediationInput concatenates failing review findings with
// instructions to output corrected files.
func buildRemediationInput(findings review.Findings) string {
	var b strings.Builder
	b.WriteString("The following review findings identify issues to fix. Output corrected files.\n\n")
	for _, reviewer := range ReviewerIdents {
		f, ok := findings.ByAgent[string(reviewer)]
		if !ok || !f.Failing {
			continue
		}
		fmt.Fprintf(&b, "## %s findings\n%s\n\n", reviewer, f.Output)
	}
	return b.String()
}
