package agent

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type (
	// Config describes a stable agent configuration: a role bound to a
	// provider+model+system-prompt pair, plus the caps that bound a single
	// invocation.
	Config struct {
		ID          Ident  `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		Provider    string `yaml:"provider"`
		Model       string `yaml:"model"`
		Group       Group  `yaml:"group"`

		// MaxOutputTokens bounds the completion length for one Gateway.Invoke
		// call. Zero means "use the default for this agent" (see DefaultCaps).
		MaxOutputTokens int `yaml:"max_output_tokens"`
		// MaxToolSteps bounds the number of tool-loop rounds per invocation.
		MaxToolSteps int `yaml:"max_tool_steps"`

		// PromptPath locates the on-disk default system prompt for this agent.
		PromptPath string `yaml:"prompt_path"`
	}

	// Override replaces provider/model/prompt for an agent at runtime,
	// typically loaded from the Execution Record Store. A zero-value field means "keep the
	// Config's value".
	Override struct {
		Provider string
		Model    string
		Prompt   string
	}

	// Registry is the process-wide set of loaded Agent Configs.
	Registry struct {
		mu      sync.RWMutex
		configs map[Ident]Config
	}
)

// Cap describes the default output-token and tool-step caps for an agent
// group when the Config does not set its own.
type Cap struct {
	MaxOutputTokens int
	MaxToolSteps    int
}

// DefaultCaps gives each built-in agent its default output/tool-step caps.
var DefaultCaps = map[Ident]Cap{
	Research:    {MaxOutputTokens: 3000, MaxToolSteps: 10},
	Architect:   {MaxOutputTokens: 12000, MaxToolSteps: 10},
	FrontendDev: {MaxOutputTokens: 64000, MaxToolSteps: 12},
	BackendDev:  {MaxOutputTokens: 32000, MaxToolSteps: 8},
	Styling:     {MaxOutputTokens: 32000, MaxToolSteps: 8},
	CodeReview:  {MaxOutputTokens: 2000, MaxToolSteps: 10},
	Security:    {MaxOutputTokens: 2000, MaxToolSteps: 10},
	QA:          {MaxOutputTokens: 2000, MaxToolSteps: 10},
}

// DefaultCap is used for any agent not listed in DefaultCaps.
var DefaultCap = Cap{MaxOutputTokens: 8000, MaxToolSteps: 10}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[Ident]Config)}
}

// LoadYAML decodes a list of Config values from YAML bytes and registers them.
func (r *Registry) LoadYAML(data []byte) error {
	var cfgs []Config
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return fmt.Errorf("agent: decode config: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cfgs {
		r.configs[c.ID] = c
	}
	return nil
}

// LoadFile loads agent configs from a YAML file on disk.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("agent: read config file: %w", err)
	}
	return r.LoadYAML(data)
}

// Register installs or replaces a single Config.
func (r *Registry) Register(c Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[c.ID] = c
}

// ErrNotFound is returned by Resolve when no Config is registered for an Ident.
var ErrNotFound = fmt.Errorf("agent: config not found")

// Resolve looks up a Config by Ident, applying an optional runtime override.
// The override's non-zero fields replace the corresponding Config fields;
// PromptPath is left untouched when Override.Prompt is set (Prompt carries
// the resolved text itself, not a path — see runner.loadSystemPrompt).
func (r *Registry) Resolve(id Ident, ov *Override) (Config, error) {
	r.mu.RLock()
	c, ok := r.configs[id]
	r.mu.RUnlock()
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if ov != nil {
		if ov.Provider != "" {
			c.Provider = ov.Provider
		}
		if ov.Model != "" {
			c.Model = ov.Model
		}
	}
	if c.MaxOutputTokens == 0 {
		if cap, ok := DefaultCaps[id]; ok {
			c.MaxOutputTokens = cap.MaxOutputTokens
		} else {
			c.MaxOutputTokens = DefaultCap.MaxOutputTokens
		}
	}
	if c.MaxToolSteps == 0 {
		if cap, ok := DefaultCaps[id]; ok {
			c.MaxToolSteps = cap.MaxToolSteps
		} else {
			c.MaxToolSteps = DefaultCap.MaxToolSteps
		}
	}
	return c, nil
}
