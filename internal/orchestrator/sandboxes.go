package orchestrator

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/anthonybaldwin/crewforge/internal/sandbox"
)

// ProjectSandboxes resolves and caches the one *sandbox.Sandbox each project
// shares across every step of every Pipeline Run. It implements
// scheduler.ProjectSandboxes.
type ProjectSandboxes struct {
	Root      string
	Versioner sandbox.Versioner
	Notifier  sandbox.Notifier

	mu    sync.Mutex
	boxes map[string]*sandbox.Sandbox
}

// NewProjectSandboxes builds a ProjectSandboxes rooted at root, with every
// project's sandbox sharing versioner and notifier.
func NewProjectSandboxes(root string, versioner sandbox.Versioner, notifier sandbox.Notifier) *ProjectSandboxes {
	return &ProjectSandboxes{Root: root, Versioner: versioner, Notifier: notifier, boxes: make(map[string]*sandbox.Sandbox)}
}

// ForProject implements scheduler.ProjectSandboxes.
func (p *ProjectSandboxes) ForProject(projectID string) (*sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.boxes[projectID]; ok {
		return sb, nil
	}
	sb, err := sandbox.New(filepath.Join(p.Root, projectID), projectID, p.Versioner, p.Notifier)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build sandbox for project %s: %w", projectID, err)
	}
	p.boxes[projectID] = sb
	return sb, nil
}
