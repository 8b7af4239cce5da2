package runner

import (
	"fmt"
	"os"

	"github.com/anthonybaldwin/crewforge/internal/agent"
)

// FilePromptLoader implements PromptLoader by reading the on-disk default
// prompt named by Config.PromptPath,
// relative to Dir when PromptPath is itself relative.
type FilePromptLoader struct {
	Dir string
}

// LoadPrompt implements PromptLoader.
func (l FilePromptLoader) LoadPrompt(cfg agent.Config) (string, error) {
	if cfg.PromptPath == "" {
		return "", fmt.Errorf("runner: agent %s has no prompt_path configured", cfg.ID)
	}
	path := cfg.PromptPath
	if l.Dir != "" && !os.IsPathSeparator(path[0]) {
		path = l.Dir + string(os.PathSeparator) + path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("runner: read prompt file %s: %w", path, err)
	}
	return string(data), nil
}
