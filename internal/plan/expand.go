package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/agent"
)

// maxComponentBatches caps the number of frontend-dev-{i} component batches
// regardless of how many component files the architect planned.
const maxComponentBatches = 4

// componentsPerBatch is the divisor used to size N = ceil(#components / 4)
// before the maxComponentBatches cap is applied.
const componentsPerBatch = 4

type filePlanDoc struct {
	FilePlan []struct {
		Action string `json:"action"`
		Path   string `json:"path"`
	} `json:"file_plan"`
}

// ExpandFrontendSplit rewrites the DAG's single "frontend-dev" placeholder
// step into the shared/component-batch/app split, once the
// architect step has actually returned a file plan. Every step that
// depended on "frontend-dev" is rewired to depend on every resulting
// frontend-dev instance instead.
//
// If filePlanJSON does not parse or contains no file_plan entries, the
// input DAG is returned unchanged — a single frontend-dev step is a valid
// plan when there is nothing to bucket.
func ExpandFrontendSplit(d DAG, filePlanJSON string) (DAG, error) {
	if !hasContentJSON(filePlanJSON) {
		return d, nil
	}
	var doc filePlanDoc
	if err := json.Unmarshal([]byte(filePlanJSON), &doc); err != nil {
		return d, nil
	}
	if len(doc.FilePlan) == 0 {
		return d, nil
	}

	placeholder, ok := d.StepByID("frontend-dev")
	if !ok {
		return d, fmt.Errorf("plan: expand frontend split: no frontend-dev step in DAG")
	}

	var components, shared, app []string
	for _, f := range doc.FilePlan {
		switch bucketFor(f.Path) {
		case bucketComponent:
			components = append(components, f.Path)
		case bucketShared:
			shared = append(shared, f.Path)
		case bucketApp:
			app = append(app, f.Path)
		}
	}

	var newInstances []Step
	if len(shared) > 0 {
		newInstances = append(newInstances, step("frontend-dev-shared", agent.FrontendDev, d.UserMessage, placeholder.DependsOn...))
	}

	batches := ceilDiv(len(components), componentsPerBatch)
	if batches > maxComponentBatches {
		batches = maxComponentBatches
	}
	for i := 1; i <= batches; i++ {
		id := fmt.Sprintf("frontend-dev-%d", i)
		newInstances = append(newInstances, step(id, agent.FrontendDev, d.UserMessage, placeholder.DependsOn...))
	}

	appDeps := make([]string, 0, len(newInstances))
	for _, s := range newInstances {
		appDeps = append(appDeps, s.ID)
	}
	if len(appDeps) == 0 {
		// No components or shared files bucketed (e.g. everything fell into
		// "app"): the app step still runs, depending directly on whatever
		// the placeholder depended on.
		appDeps = append(appDeps, placeholder.DependsOn...)
	}
	appStep := step("frontend-dev-app", agent.FrontendDev, d.UserMessage, appDeps...)
	newInstances = append(newInstances, appStep)

	out := d.Clone()
	out.Steps = replaceStep(out.Steps, "frontend-dev", newInstances)
	out.Steps = rewireDependency(out.Steps, "frontend-dev", appStep.ID)
	return out, nil
}

type bucket int

const (
	bucketComponent bucket = iota
	bucketShared
	bucketApp
)

// bucketFor classifies one architect file-plan path:
// components/pages -> component; hooks/utils/types/lib/helpers/constants/
// context -> shared; entry points (App.*, project root) -> app.
func bucketFor(path string) bucket {
	clean := strings.TrimPrefix(path, "/")
	top := strings.SplitN(clean, "/", 2)[0]
	switch top {
	case "components", "pages":
		return bucketComponent
	case "hooks", "utils", "types", "lib", "helpers", "constants", "context":
		return bucketShared
	}
	base := clean
	if idx := strings.LastIndex(clean, "/"); idx >= 0 {
		base = clean[idx+1:]
	}
	if strings.HasPrefix(base, "App.") || !strings.Contains(clean, "/") {
		return bucketApp
	}
	return bucketShared
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func replaceStep(steps []Step, id string, with []Step) []Step {
	out := make([]Step, 0, len(steps)+len(with))
	for _, s := range steps {
		if s.ID == id {
			out = append(out, with...)
			continue
		}
		out = append(out, s)
	}
	return out
}

// rewireDependency replaces every occurrence of oldDep in DependsOn lists
// with newDep, skipping the frontend-dev instances themselves (they depend
// on the architect, not on each other, except app -> instances which was
// already set explicitly).
func rewireDependency(steps []Step, oldDep, newDep string) []Step {
	for i, s := range steps {
		if strings.HasPrefix(s.ID, "frontend-dev") {
			continue
		}
		for j, dep := range s.DependsOn {
			if dep == oldDep {
				steps[i].DependsOn[j] = newDep
			}
		}
	}
	return steps
}
