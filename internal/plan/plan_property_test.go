package plan

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPlanningIsDeterministicProperty verifies planning twice with the same
// inputs yields structurally identical DAGs.
func TestPlanningIsDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("BuildExecutionPlan is deterministic in its inputs", prop.ForAll(
		func(tc planInputs) bool {
			a := BuildExecutionPlan(tc.userMessage, tc.researchJSON, tc.intent, tc.scope)
			b := BuildExecutionPlan(tc.userMessage, tc.researchJSON, tc.intent, tc.scope)
			return reflect.DeepEqual(a, b)
		},
		genPlanInputs(),
	))

	properties.TestingRun(t)
}

type planInputs struct {
	userMessage  string
	researchJSON string
	intent       Intent
	scope        Scope
}

func genPlanInputs() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(),
		gen.OneConstOf("", `{"features":[]}`, `{"features":[{"requires_backend":true}]}`, "not json"),
		gen.OneConstOf(IntentBuild, IntentFix, IntentQuestion),
		gen.OneConstOf(ScopeFull, ScopeFrontend, ScopeBackend, ScopeStyling),
	).Map(func(vals []any) planInputs {
		return planInputs{
			userMessage:  vals[0].(string),
			researchJSON: vals[1].(string),
			intent:       vals[2].(Intent),
			scope:        vals[3].(Scope),
		}
	})
}
