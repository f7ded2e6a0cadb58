package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig represents configuration for an OpenAI-compatible generation backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
	Model   string `yaml:"model,omitempty"`
}

// OllamaConfig represents configuration for an Ollama generation backend.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"` // Ollama host (default: "http://localhost:11434")
	Model string `yaml:"model,omitempty"`
}

// AnthropicConfig represents configuration for an Anthropic generation backend.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// GenerationConfig selects and tunes the generation backend used by the
// consolidation agents.
type GenerationConfig struct {
	Provider    string          `yaml:"provider,omitempty"` // "openai", "ollama", or "anthropic"
	Timeout     int             `yaml:"timeout,omitempty"`  // Per-call timeout in seconds
	MaxAttempts int             `yaml:"max_attempts,omitempty"`
	OpenAI      OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama      OllamaConfig    `yaml:"ollama,omitempty"`
	Anthropic   AnthropicConfig `yaml:"anthropic,omitempty"`
}

// SchedulerConfig controls the consolidation pass cadence.
type SchedulerConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // Cron expression or Go duration, e.g. "10m"
	Timeout  int    `yaml:"timeout,omitempty"`  // Per-pass timeout in seconds
	Workers  int    `yaml:"workers,omitempty"`  // Max users consolidated concurrently
}

// RetrievalConfig controls the fusion of retrieval candidates.
type RetrievalConfig struct {
	RerankURL     string  `yaml:"rerank_url,omitempty"` // Scoring oracle endpoint
	Lookback      int     `yaml:"lookback,omitempty"`   // Periods fetched per summary tier
	RecordShare   float64 `yaml:"record_share,omitempty"`
	LongTermShare float64 `yaml:"longterm_share,omitempty"`
	SummaryShare  float64 `yaml:"summary_share,omitempty"`
}

// Config is the full server configuration for memoryloomd.
type Config struct {
	Server struct {
		Addr string `yaml:"addr,omitempty"` // HTTP listen address
	} `yaml:"server,omitempty"`

	DBPath     string           `yaml:"db_path,omitempty"`
	Generation GenerationConfig `yaml:"generation,omitempty"`
	Scheduler  SchedulerConfig  `yaml:"scheduler,omitempty"`
	Retrieval  RetrievalConfig  `yaml:"retrieval,omitempty"`
}

// Default returns the configuration defaults used when no file is present.
func Default() *Config {
	cfg := &Config{
		DBPath: "memoryloom.db",
		Generation: GenerationConfig{
			Provider:    "openai",
			Timeout:     60,
			MaxAttempts: 3,
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "llama3.2:3b",
			},
			Anthropic: AnthropicConfig{
				Model: "claude-3-5-haiku-latest",
			},
		},
		Scheduler: SchedulerConfig{
			Schedule: "10m",
			Timeout:  300,
			Workers:  4,
		},
		Retrieval: RetrievalConfig{
			Lookback:      4,
			RecordShare:   0.4,
			LongTermShare: 0.3,
			SummaryShare:  0.3,
		},
	}
	cfg.Server.Addr = "localhost:8000"
	return cfg
}

// GetConfigPath returns the default config file path.
// Can be overridden via LOOM_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.memoryloom/config.yaml"
	}
	return filepath.Join(homeDir, ".memoryloom", "config.yaml")
}

// Load loads the configuration from the given path, merging file values onto
// the defaults. A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	defaults := Default()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var fileConfig Config
	if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(defaults, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	return defaults, nil
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
