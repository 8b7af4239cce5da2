package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
)

// FSProjectFiles implements ProjectFiles by checking whether a project's
// directory under Root already has any entries.
type FSProjectFiles struct {
	Root string
}

// HasExistingFiles implements ProjectFiles.
func (f FSProjectFiles) HasExistingFiles(projectID string) (bool, error) {
	entries, err := os.ReadDir(filepath.Join(f.Root, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("orchestrator: list project %s: %w", projectID, err)
	}
	return len(entries) > 0, nil
}
