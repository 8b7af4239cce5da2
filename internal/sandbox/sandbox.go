// Package sandbox implements the Tool Sandbox: write_file,
// write_files, read_file, list_files, and save_version, all resolved
// against and confined to a single project root.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/anthonybaldwin/crewforge/internal/model"
)

// ErrPathEscape is returned (never panicked) when a sanitized path resolves
// outside the project root. Tool handlers surface this to the model as a
// structured {"error": "..."} result rather than failing the invocation, so
// the model can recover by retrying with a corrected path.
var ErrPathEscape = errors.New("sandbox: path escapes project root")

// Versioner delegates save_version to an external collaborator; git-backed
// versioning lives outside the core sandbox.
type Versioner interface {
	SaveVersion(ctx context.Context, projectID, label string) error
}

// Notifier publishes files_changed events; internal/bus.Bus satisfies this.
type Notifier interface {
	FilesChanged(projectID string, paths []string)
}

// FileNode is one entry in the list_files tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []FileNode `json:"children,omitempty"`
}

// MaxAgentVersionsPerRun bounds save_version calls for a single pipeline run.
const MaxAgentVersionsPerRun = 5

// Sandbox scopes the five tools to one project root and rate-limits
// save_version.
type Sandbox struct {
	root      string
	projectID string
	versioner Versioner
	notifier  Notifier
	validate  *Validators

	mu             sync.Mutex
	versionsCalled int
}

// New builds a Sandbox rooted at root for the given project id.
func New(root, projectID string, versioner Versioner, notifier Notifier) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root: %w", err)
	}
	validators, err := CompileValidators()
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile tool validators: %w", err)
	}
	return &Sandbox{root: abs, projectID: projectID, versioner: versioner, notifier: notifier, validate: validators}, nil
}

// resolve sanitizes and resolves path under the sandbox root, returning
// ErrPathEscape (not a panic) if the result falls outside root.
func (s *Sandbox) resolve(path string) (string, error) {
	clean := sanitize(path)
	if clean == "" {
		return "", fmt.Errorf("sandbox: empty path after sanitization")
	}
	abs := filepath.Join(s.root, clean)
	absClean := filepath.Clean(abs)
	rootClean := filepath.Clean(s.root)
	if absClean != rootClean && !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return absClean, nil
}

// WriteFile writes content to path under the project root, creating parent
// directories as needed.
func (s *Sandbox) WriteFile(path, content string) (string, error) {
	rel, err := s.writeFile(path, content)
	if err != nil {
		return "", err
	}
	if s.notifier != nil {
		s.notifier.FilesChanged(s.projectID, []string{rel})
	}
	return rel, nil
}

// writeFile does the actual write without notifying, so WriteFiles can
// batch every file into a single files_changed event instead of one per
// file plus a batch event.
func (s *Sandbox) writeFile(path, content string) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("sandbox: create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("sandbox: write file: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("sandbox: relativize written path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// WriteFileInput is one entry of a write_files batch.
type WriteFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFiles writes each file independently (atomic per-file, not
// transaction-wide) and returns the paths actually written.
func (s *Sandbox) WriteFiles(files []WriteFileInput) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := s.writeFile(f.Path, f.Content)
		if err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	if s.notifier != nil && len(written) > 0 {
		s.notifier.FilesChanged(s.projectID, written)
	}
	return written, nil
}

// ReadFile returns the file's content, or a structured not-found result
// the model can recover from rather than an exception.
func (s *Sandbox) ReadFile(path string) (content string, found bool, err error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", false, err
	}
	data, readErr := os.ReadFile(abs)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sandbox: read file: %w", readErr)
	}
	return string(data), true, nil
}

// ListFiles returns a recursive tree rooted at dir (or the project root when
// dir is empty), filtering hidden entries and node_modules.
func (s *Sandbox) ListFiles(dir string) ([]FileNode, error) {
	start := s.root
	if dir != "" {
		abs, err := s.resolve(dir)
		if err != nil {
			return nil, err
		}
		start = abs
	}
	return listDir(start, s.root)
}

func listDir(dir, root string) ([]FileNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sandbox: list dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	nodes := make([]FileNode, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || name == "node_modules" {
			continue
		}
		full := filepath.Join(dir, name)
		rel, err := filepath.Rel(root, full)
		if err != nil {
			rel = name
		}
		rel = filepath.ToSlash(rel)
		if e.IsDir() {
			children, err := listDir(full, root)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, FileNode{Name: name, Path: rel, Type: "directory", Children: children})
			continue
		}
		nodes = append(nodes, FileNode{Name: name, Path: rel, Type: "file"})
	}
	return nodes, nil
}

// SaveVersion delegates to the external versioning collaborator, enforcing
// MaxAgentVersionsPerRun.
func (s *Sandbox) SaveVersion(ctx context.Context, label string) error {
	s.mu.Lock()
	if s.versionsCalled >= MaxAgentVersionsPerRun {
		s.mu.Unlock()
		return fmt.Errorf("sandbox: save_version rate limit (%d per run) exceeded", MaxAgentVersionsPerRun)
	}
	s.versionsCalled++
	s.mu.Unlock()

	if s.versioner == nil {
		return errors.New("sandbox: no versioning collaborator configured")
	}
	return s.versioner.SaveVersion(ctx, s.projectID, label)
}

// Execute implements gateway.ToolExecutor, dispatching a model tool-call to
// the matching Sandbox method and encoding the result (or structured error)
// as JSON, never as a Go error — a model can retry after reading a failure
// payload but cannot retry after a stream exception.
func (s *Sandbox) Execute(ctx context.Context, call model.ToolCall) (json.RawMessage, bool) {
	if _, known := toolSchemas[call.Name]; known && s.validate != nil {
		var decoded any
		if err := json.Unmarshal(call.Input, &decoded); err != nil {
			return errResult(err)
		}
		if err := s.validate.Validate(call.Name, decoded); err != nil {
			return errResult(fmt.Errorf("sandbox: invalid input for %s: %w", call.Name, err))
		}
	}

	switch call.Name {
	case ToolWriteFile:
		var in struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return errResult(err)
		}
		rel, err := s.WriteFile(in.Path, in.Content)
		if err != nil {
			return errResult(err)
		}
		return okResult(map[string]any{"path": rel, "success": true})
	case ToolWriteFiles:
		var in struct {
			Files []WriteFileInput `json:"files"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return errResult(err)
		}
		written, err := s.WriteFiles(in.Files)
		if err != nil {
			return errResult(err)
		}
		return okResult(map[string]any{"paths": written, "success": true})
	case ToolReadFile:
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return errResult(err)
		}
		content, found, err := s.ReadFile(in.Path)
		if err != nil {
			return errResult(err)
		}
		if !found {
			return okResult(map[string]any{"error": "File not found"})
		}
		return okResult(map[string]any{"content": content})
	case ToolListFiles:
		var in struct {
			Dir string `json:"dir"`
		}
		_ = json.Unmarshal(call.Input, &in)
		nodes, err := s.ListFiles(in.Dir)
		if err != nil {
			return errResult(err)
		}
		return okResult(map[string]any{"nodes": nodes})
	case ToolSaveVersion:
		var in struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return errResult(err)
		}
		if err := s.SaveVersion(ctx, in.Label); err != nil {
			return errResult(err)
		}
		return okResult(map[string]any{"success": true})
	default:
		return errResult(fmt.Errorf("sandbox: unknown tool %q", call.Name))
	}
}

func okResult(v any) (json.RawMessage, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"error":"internal: encode result"}`), true
	}
	return raw, false
}

func errResult(err error) (json.RawMessage, bool) {
	raw, _ := json.Marshal(map[string]any{"error": err.Error()})
	return raw, true
}
