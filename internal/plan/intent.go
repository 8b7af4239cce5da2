package plan

import "context"

// Classifier calls the cheap `orchestrator:classify` agent config and
// returns its decision. Plan callers inject this rather than plan depending
// on the Gateway directly, keeping BuildExecutionPlan itself pure.
type Classifier func(ctx context.Context, userMessage string) (Intent, Scope, error)

// ClassifyIntent decides the (Intent, Scope) pair to pass into
// BuildExecutionPlan.
//
// A project with no existing files always forces build/full, regardless of
// the user message — there is nothing to fix or ask about yet. Otherwise the
// injected classifier is consulted; a nil classifier or classifier error
// (no provider bound) falls back to build/full rather than failing the
// pipeline outright.
func ClassifyIntent(ctx context.Context, hasExistingFiles bool, userMessage string, classify Classifier) (Intent, Scope) {
	if !hasExistingFiles {
		return IntentBuild, ScopeFull
	}
	if classify == nil {
		return IntentBuild, ScopeFull
	}
	intent, scope, err := classify(ctx, userMessage)
	if err != nil {
		return IntentBuild, ScopeFull
	}
	return intent, scope
}
