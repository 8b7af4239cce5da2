package plan

import "github.com/anthonybaldwin/crewforge/internal/agent"

// BuildExecutionPlan is a pure function: from (userMessage, researchJSON,
// intent, scope) it produces a DAG. It never calls a model; intent and
// scope must already be decided (see ClassifyIntent).
func BuildExecutionPlan(userMessage, researchJSON string, intent Intent, scope Scope) DAG {
	switch intent {
	case IntentFix:
		return buildFixDAG(userMessage, scope)
	case IntentQuestion:
		return buildQuestionDAG(userMessage)
	default:
		return buildBuildDAG(userMessage, researchJSON, scope)
	}
}

func buildBuildDAG(userMessage, researchJSON string, scope Scope) DAG {
	d := DAG{Intent: IntentBuild, Scope: scope, UserMessage: userMessage}

	architect := step("architect", agent.Architect, userMessage)
	d.Steps = append(d.Steps, architect)

	includeBackend := (scope == ScopeFull || scope == ScopeBackend) && needsBackend(researchJSON)

	// The frontend-dev step is a placeholder: once the architect returns a
	// file plan, ExpandFrontendSplit replaces it with the shared/component/
	// app split. Downstream deps below
	// reference "frontend-dev" and are rewritten by that expansion too.
	frontend := step("frontend-dev", agent.FrontendDev, userMessage, architect.ID)
	d.Steps = append(d.Steps, frontend)

	lastDev := frontend.ID
	if includeBackend {
		// backend-dev depends on frontend-dev, sequential to avoid
		// file-write races within one project path.
		backend := step("backend-dev", agent.BackendDev, userMessage, frontend.ID)
		d.Steps = append(d.Steps, backend)
		lastDev = backend.ID
	}

	styling := step("styling", agent.Styling, userMessage, lastDev)
	d.Steps = append(d.Steps, styling)

	d.Steps = append(d.Steps,
		step("code-review", agent.CodeReview, userMessage, styling.ID),
		step("security", agent.Security, userMessage, styling.ID),
		step("qa", agent.QA, userMessage, styling.ID),
	)

	return d
}

func buildFixDAG(userMessage string, scope Scope) DAG {
	d := DAG{Intent: IntentFix, Scope: scope, UserMessage: userMessage}

	testing := step("testing", agent.Testing, userMessage)
	d.Steps = append(d.Steps, testing)

	// scope=frontend omits backend and styling; scope=styling omits the dev
	// agents (frontend, backend); scope=full runs both developer agents plus
	// styling.
	includeFrontend := scope == ScopeFull || scope == ScopeFrontend
	includeBackend := scope == ScopeFull || scope == ScopeBackend
	includeStyling := scope == ScopeFull || scope == ScopeStyling

	last := testing.ID
	if includeFrontend {
		fe := step("frontend-dev", agent.FrontendDev, userMessage, last)
		d.Steps = append(d.Steps, fe)
		last = fe.ID
	}
	if includeBackend {
		be := step("backend-dev", agent.BackendDev, userMessage, last)
		d.Steps = append(d.Steps, be)
		last = be.ID
	}
	if includeStyling {
		st := step("styling", agent.Styling, userMessage, last)
		d.Steps = append(d.Steps, st)
		last = st.ID
	}

	d.Steps = append(d.Steps,
		step("code-review", agent.CodeReview, userMessage, last),
		step("security", agent.Security, userMessage, last),
		step("qa", agent.QA, userMessage, last),
	)
	d.Steps = append(d.Steps, step("remediation", agent.Remediation, userMessage,
		"code-review", "security", "qa"))

	return d
}

func buildQuestionDAG(userMessage string) DAG {
	return DAG{
		Intent:      IntentQuestion,
		Scope:       ScopeFull,
		UserMessage: userMessage,
		Steps:       []Step{step("orchestrator-question", agent.OrchestratorQuestion, userMessage)},
	}
}

func step(id string, a agent.Ident, userMessage string, dependsOn ...string) Step {
	return Step{
		ID:          id,
		Agent:       a,
		DependsOn:   append([]string(nil), dependsOn...),
		UserMessage: userMessage,
	}
}
