// Package agent defines Agent Config, the per-agent runtime override layer,
// and the process-wide config registry.
package agent

// Ident is the strong type for agent config identifiers (e.g. "frontend-dev",
// "orchestrator:classify"). Use this type rather than free-form strings when
// referencing agents in maps or APIs.
type Ident string

// Group classifies an agent by where it sits in the pipeline.
type Group string

const (
	GroupPlanning   Group = "planning"
	GroupDevelopment Group = "development"
	GroupQuality    Group = "quality"
)

const (
	// Orchestrator is the meta-agent used for intent classification, the
	// final question-answer flow, and run summarization.
	Orchestrator Ident = "orchestrator"
	// OrchestratorClassify is the cheap classifier config variant.
	OrchestratorClassify Ident = "orchestrator:classify"
	// OrchestratorSummary produces the end-of-run summary.
	OrchestratorSummary Ident = "orchestrator:summary"
	// OrchestratorQuestion answers standalone questions about the project.
	OrchestratorQuestion Ident = "orchestrator:question"

	Research   Ident = "research"
	Architect  Ident = "architect"
	FrontendDev Ident = "frontend-dev"
	BackendDev Ident = "backend-dev"
	Styling    Ident = "styling"
	CodeReview Ident = "code-review"
	Security   Ident = "security"
	QA         Ident = "qa"
	Testing    Ident = "testing"

	// Remediation is the fixer-dispatch step placeholder in the Fix DAG; the
	// Remediation Controller (C8) resolves it into one or more concrete
	// frontend-dev/backend-dev/styling steps from routing hints rather than
	// invoking an agent config named "remediation" directly.
	Remediation Ident = "remediation"
)
