// Package config loads marcusd's YAML configuration (spec §6
// "Configuration"). Grounded on the teacher's internal/agents.LoadTeamsConfig
// (read file, yaml.Unmarshal, return struct) combined with
// internal/types.TeamsConfig's field conventions.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names the kanban backend to dial (spec §6 "provider").
type Provider string

const (
	ProviderPlanka Provider = "planka"
	ProviderGitHub Provider = "github"
	ProviderLinear Provider = "linear"
	ProviderMemory Provider = "memory" // local/dev in-core reference backend
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderPlanka, ProviderGitHub, ProviderLinear, ProviderMemory:
		return true
	}
	return false
}

// PlankaConfig holds the Planka backend's credentials (spec §6).
type PlankaConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// GitHubConfig holds the GitHub Issues backend's credentials.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// LinearConfig holds the Linear backend's credentials.
type LinearConfig struct {
	APIKey string `yaml:"api_key"`
	TeamID string `yaml:"team_id"`
}

// Config is marcusd's full set of recognized options (spec §6).
type Config struct {
	Provider Provider     `yaml:"provider"`
	Planka   PlankaConfig `yaml:"planka"`
	GitHub   GitHubConfig `yaml:"github"`
	Linear   LinearConfig `yaml:"linear"`

	// AIAPIKey enables the LLM adapter when non-empty; empty disables
	// it and every adapter call takes the deterministic fallback path
	// (spec §4.6).
	AIAPIKey string `yaml:"ai_api_key"`

	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`
	StallThresholdHours    int `yaml:"stall_threshold_hours"`
	AITimeoutSeconds       int `yaml:"ai_timeout_seconds"`
	ToolCallTimeoutSeconds int `yaml:"tool_call_timeout_seconds"`

	AuthTokens []string `yaml:"auth_tokens"`

	PersistencePath string `yaml:"persistence_path"`

	// LedgerPath is an [EXPANSION]: the optional SQLite audit trail
	// (internal/ledger). Empty disables it.
	LedgerPath string `yaml:"ledger_path"`

	// StrictMode, when true, exits with code 2 (spec §6 exit codes) if
	// the kanban provider is unreachable at startup instead of
	// retrying in the background.
	StrictMode bool `yaml:"strict_mode"`

	// SSEAddr is the bind address for the SSE transport's HTTP server.
	SSEAddr string `yaml:"sse_addr"`
}

// defaults mirrors the values spec §6 documents explicitly.
func defaults() Config {
	return Config{
		Provider:               ProviderMemory,
		MonitorIntervalSeconds: 60,
		StallThresholdHours:    24,
		AITimeoutSeconds:       10,
		ToolCallTimeoutSeconds: 30,
		PersistencePath:        "data/assignments.json",
		SSEAddr:                ":8585",
	}
}

// Load reads and validates a YAML config file at path, filling in the
// spec's documented defaults for anything left unset.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants needed before wiring a provider and
// returns a descriptive error the caller turns into exit code 1 (spec
// §6 "Exit codes").
func (c *Config) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	switch c.Provider {
	case ProviderPlanka:
		if c.Planka.BaseURL == "" || c.Planka.Email == "" || c.Planka.Password == "" {
			return fmt.Errorf("config: planka provider requires base_url, email, and password")
		}
	case ProviderGitHub:
		if c.GitHub.Token == "" || c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("config: github provider requires token, owner, and repo")
		}
	case ProviderLinear:
		if c.Linear.APIKey == "" || c.Linear.TeamID == "" {
			return fmt.Errorf("config: linear provider requires api_key and team_id")
		}
	}
	if c.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("config: monitor_interval_seconds must be positive")
	}
	if c.StallThresholdHours <= 0 {
		return fmt.Errorf("config: stall_threshold_hours must be positive")
	}
	if c.AITimeoutSeconds <= 0 {
		return fmt.Errorf("config: ai_timeout_seconds must be positive")
	}
	if c.ToolCallTimeoutSeconds <= 0 {
		return fmt.Errorf("config: tool_call_timeout_seconds must be positive")
	}
	if c.PersistencePath == "" {
		return fmt.Errorf("config: persistence_path must not be empty")
	}
	return nil
}

// MonitorInterval returns the configured monitor cadence as a Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// StallThreshold returns the configured stale-assignment threshold.
func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.StallThresholdHours) * time.Hour
}

// AITimeout returns the configured AI adapter timeout.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds) * time.Second
}

// ToolCallTimeout returns the configured per-tool-call deadline.
func (c *Config) ToolCallTimeout() time.Duration {
	return time.Duration(c.ToolCallTimeoutSeconds) * time.Second
}
