// Package config defines Shannon's configuration: file loading (YAML,
// with JSON5 accepted for legacy configs), environment overrides and
// live reload of the hot-swappable sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Context       ContextConfig       `yaml:"context" json:"context"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" json:"scheduler"`
	Webhooks      WebhooksConfig      `yaml:"webhooks" json:"webhooks"`
	Discord       DiscordConfig       `yaml:"discord" json:"discord"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	DataDir       string              `yaml:"data_dir" json:"data_dir"`
	LogLevel      string              `yaml:"log_level" json:"log_level"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider              string  `yaml:"provider" json:"provider"` // "anthropic" or "local"
	Model                 string  `yaml:"model" json:"model"`
	APIKey                string  `yaml:"api_key" json:"api_key"`
	LocalEndpoint         string  `yaml:"local_endpoint" json:"local_endpoint"`
	MaxTokens             int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature           float64 `yaml:"temperature" json:"temperature"`
	ContextWindow         int     `yaml:"context_window" json:"context_window"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// RequestTimeout returns the per-call LLM timeout.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// AuthConfig holds sender lists and limits. Entries are "platform:id"
// or a bare id matching any platform.
type AuthConfig struct {
	AdminUsers         []string `yaml:"admin_users" json:"admin_users"`
	OperatorUsers      []string `yaml:"operator_users" json:"operator_users"`
	TrustedUsers       []string `yaml:"trusted_users" json:"trusted_users"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	SudoTimeoutSeconds int      `yaml:"sudo_timeout_seconds" json:"sudo_timeout_seconds"`
}

// SudoTimeout returns the lifetime of an approved sudo grant.
func (c AuthConfig) SudoTimeout() time.Duration {
	return time.Duration(c.SudoTimeoutSeconds) * time.Second
}

// ContextConfig tunes the conversation window.
type ContextConfig struct {
	MaxMessages        int     `yaml:"max_messages" json:"max_messages"`
	SummarizeThreshold float64 `yaml:"summarize_threshold" json:"summarize_threshold"`
}

// SchedulerConfig controls the heartbeat and cron subsystem.
type SchedulerConfig struct {
	Enabled                  bool   `yaml:"enabled" json:"enabled"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
	HeartbeatFile            string `yaml:"heartbeat_file" json:"heartbeat_file"`
}

// HeartbeatInterval returns the heartbeat period.
func (c SchedulerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// WebhooksConfig controls the HTTP webhook ingress.
type WebhooksConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Bind      string            `yaml:"bind" json:"bind"`
	Port      int               `yaml:"port" json:"port"`
	Endpoints []WebhookEndpoint `yaml:"endpoints" json:"endpoints"`
}

// WebhookEndpoint declares one registered webhook path.
type WebhookEndpoint struct {
	Name           string `yaml:"name" json:"name"`
	Path           string `yaml:"path" json:"path"`
	Secret         string `yaml:"secret" json:"secret"`
	Channel        string `yaml:"channel" json:"channel"` // "platform:channel" delivery target
	PromptTemplate string `yaml:"prompt_template" json:"prompt_template"`
}

// DiscordConfig holds the Discord transport credentials.
type DiscordConfig struct {
	Token string `yaml:"token" json:"token"`
}

// ObservabilityConfig enables tracing when an endpoint is set.
type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:              "anthropic",
			Model:                 "claude-sonnet-4-20250514",
			LocalEndpoint:         "http://localhost:11434/v1",
			MaxTokens:             4096,
			Temperature:           0.7,
			ContextWindow:         100000,
			RequestTimeoutSeconds: 120,
		},
		Auth: AuthConfig{
			RateLimitPerMinute: 10,
			SudoTimeoutSeconds: 300,
		},
		Context: ContextConfig{
			MaxMessages:        50,
			SummarizeThreshold: 0.7,
		},
		Scheduler: SchedulerConfig{
			Enabled:                  true,
			HeartbeatIntervalSeconds: 30,
		},
		Webhooks: WebhooksConfig{
			Bind: "127.0.0.1",
			Port: 8420,
		},
		LogLevel: "info",
	}
}

// ResolvedDataDir returns the data directory, defaulting to ~/.shannon.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return ExpandHome(c.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shannon"
	}
	return filepath.Join(home, ".shannon")
}

// ResolvedHeartbeatFile returns the heartbeat file path, defaulting to
// <data_dir>/heartbeat.
func (c *Config) ResolvedHeartbeatFile() string {
	if c.Scheduler.HeartbeatFile != "" {
		return ExpandHome(c.Scheduler.HeartbeatFile)
	}
	return filepath.Join(c.ResolvedDataDir(), "heartbeat")
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "local":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Context.SummarizeThreshold <= 0 || c.Context.SummarizeThreshold > 1 {
		return fmt.Errorf("context.summarize_threshold must be in (0, 1], got %v", c.Context.SummarizeThreshold)
	}
	if c.Webhooks.Enabled {
		seen := make(map[string]string, len(c.Webhooks.Endpoints))
		for _, ep := range c.Webhooks.Endpoints {
			if ep.Path == "" || ep.Path[0] != '/' {
				return fmt.Errorf("webhook endpoint %q: path must start with /", ep.Name)
			}
			if prev, dup := seen[ep.Path]; dup {
				return fmt.Errorf("webhook endpoints %q and %q share path %s", prev, ep.Name, ep.Path)
			}
			seen[ep.Path] = ep.Name
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
