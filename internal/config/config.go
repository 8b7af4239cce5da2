// Package config loads crewforge-demo's process configuration: defaults,
// then a YAML file, then CREWFORGE_-prefixed environment variables, the same
// layering order the reference gateway CLI uses for its own config.Load.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type (
	// Config is the top-level process configuration.
	Config struct {
		Store     StoreConfig     `mapstructure:"store"`
		Engine    EngineConfig    `mapstructure:"engine"`
		Bus       BusConfig       `mapstructure:"bus"`
		Sandbox   SandboxConfig   `mapstructure:"sandbox"`
		Agents    AgentsConfig    `mapstructure:"agents"`
		Providers ProvidersConfig `mapstructure:"providers"`
		CostLimit float64         `mapstructure:"cost_limit"`
	}

	// StoreConfig selects the Execution Record Store and Cost/Budget Ledger
	// backend. "inmem" needs nothing further; "mongo" requires URI/Database.
	StoreConfig struct {
		Backend  string        `mapstructure:"backend"` // inmem, mongo
		URI      string        `mapstructure:"uri"`
		Database string        `mapstructure:"database"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}

	// EngineConfig selects the Scheduler's durable workflow backend.
	EngineConfig struct {
		Backend   string `mapstructure:"backend"` // inmem, temporal
		Address   string `mapstructure:"address"`
		TaskQueue string `mapstructure:"task_queue"`
		Namespace string `mapstructure:"namespace"`
	}

	// BusConfig selects the broadcast bus backend.
	BusConfig struct {
		Backend string `mapstructure:"backend"` // inmem, redis
		Addr    string `mapstructure:"addr"`
		Channel string `mapstructure:"channel"`
	}

	// SandboxConfig roots every project's Tool Sandbox and file-existence
	// check under one directory.
	SandboxConfig struct {
		Root string `mapstructure:"root"`
	}

	// AgentsConfig locates the Agent Config YAML loaded into agent.Registry
	// at boot.
	AgentsConfig struct {
		ConfigFile  string `mapstructure:"config_file"`
		PromptsRoot string `mapstructure:"prompts_root"`
	}

	// ProvidersConfig carries the default credentials bound to each
	// provider, used when a run request does not override them.
	ProvidersConfig struct {
		AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
		OpenAIAPIKey    string `mapstructure:"openai_api_key"`
		AWSRegion       string `mapstructure:"aws_region"`
		AWSAccessKey    string `mapstructure:"aws_access_key_id"`
		AWSSecretKey    string `mapstructure:"aws_secret_access_key"`
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "inmem")
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("engine.backend", "inmem")
	v.SetDefault("engine.task_queue", "crewforge")
	v.SetDefault("bus.backend", "inmem")
	v.SetDefault("bus.channel", "agents")
	v.SetDefault("sandbox.root", "./projects")
	v.SetDefault("agents.config_file", "./configs/agents.yaml")
	v.SetDefault("agents.prompts_root", "./configs/prompts")
	v.SetDefault("cost_limit", 5.0)
}

// Load reads defaults, then file (if present), then CREWFORGE_-prefixed
// environment variables, highest priority last.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: read %s: %w", file, err)
			}
		}
	}

	v.SetEnvPrefix("CREWFORGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
