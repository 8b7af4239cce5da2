// Package plan implements the Plan Builder: a deterministic
// function from (user message, research JSON, intent, scope) to a DAG of
// Steps. No LLM participates in plan construction itself.
package plan

import "github.com/anthonybaldwin/crewforge/internal/agent"

type (
	// Intent classifies what kind of DAG to build.
	Intent string

	// Scope narrows a fix (or, for build, confirms full scope) to a subset
	// of the stack.
	Scope string

	// Step is one scheduled invocation of an agent within a Pipeline Run.
	Step struct {
		// ID is unique within the DAG (e.g. "frontend-dev", "frontend-dev-2",
		// "frontend-dev-app").
		ID string
		// Agent is the config this step invokes.
		Agent agent.Ident
		// InstanceID distinguishes parallel copies of the same Agent; empty
		// for singleton steps.
		InstanceID string
		// DependsOn lists the Step IDs that must be completed first.
		DependsOn []string
		// UserMessage is embedded verbatim in every step's input.
		UserMessage string
	}

	// DAG is the full plan for one Pipeline Run.
	DAG struct {
		Intent      Intent
		Scope       Scope
		UserMessage string
		Steps       []Step
	}
)

const (
	IntentBuild    Intent = "build"
	IntentFix      Intent = "fix"
	IntentQuestion Intent = "question"
)

const (
	ScopeFull     Scope = "full"
	ScopeFrontend Scope = "frontend"
	ScopeBackend  Scope = "backend"
	ScopeStyling  Scope = "styling"
)

// StepByID returns the step with the given ID, or false if absent.
func (d DAG) StepByID(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Clone returns a deep-enough copy of the DAG (slices copied) so callers can
// mutate the result of ExpandFrontendSplit without aliasing the input.
func (d DAG) Clone() DAG {
	out := DAG{Intent: d.Intent, Scope: d.Scope, UserMessage: d.UserMessage}
	out.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		cp := s
		cp.DependsOn = append([]string(nil), s.DependsOn...)
		out.Steps[i] = cp
	}
	return out
}
