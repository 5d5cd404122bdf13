package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Load reads config from a file, then overlays env vars. A missing file
// yields the defaults (env still applies). YAML is the primary format;
// .json/.json5 files are parsed as JSON5 for configs written before the
// YAML switch.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays SHANNON_* env vars onto the config.
// Naming is SHANNON_<SECTION>__<FIELD>; env vars take precedence over
// file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			parts := strings.Split(v, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	envStr("SHANNON_LLM__PROVIDER", &c.LLM.Provider)
	envStr("SHANNON_LLM__MODEL", &c.LLM.Model)
	envStr("SHANNON_LLM__API_KEY", &c.LLM.APIKey)
	envStr("SHANNON_LLM__LOCAL_ENDPOINT", &c.LLM.LocalEndpoint)
	envInt("SHANNON_LLM__MAX_TOKENS", &c.LLM.MaxTokens)
	envFloat("SHANNON_LLM__TEMPERATURE", &c.LLM.Temperature)
	envInt("SHANNON_LLM__CONTEXT_WINDOW", &c.LLM.ContextWindow)
	envInt("SHANNON_LLM__REQUEST_TIMEOUT_SECONDS", &c.LLM.RequestTimeoutSeconds)

	envList("SHANNON_AUTH__ADMIN_USERS", &c.Auth.AdminUsers)
	envList("SHANNON_AUTH__OPERATOR_USERS", &c.Auth.OperatorUsers)
	envList("SHANNON_AUTH__TRUSTED_USERS", &c.Auth.TrustedUsers)
	envInt("SHANNON_AUTH__RATE_LIMIT_PER_MINUTE", &c.Auth.RateLimitPerMinute)
	envInt("SHANNON_AUTH__SUDO_TIMEOUT_SECONDS", &c.Auth.SudoTimeoutSeconds)

	envInt("SHANNON_CONTEXT__MAX_MESSAGES", &c.Context.MaxMessages)
	envFloat("SHANNON_CONTEXT__SUMMARIZE_THRESHOLD", &c.Context.SummarizeThreshold)

	envBool("SHANNON_SCHEDULER__ENABLED", &c.Scheduler.Enabled)
	envInt("SHANNON_SCHEDULER__HEARTBEAT_INTERVAL_SECONDS", &c.Scheduler.HeartbeatIntervalSeconds)
	envStr("SHANNON_SCHEDULER__HEARTBEAT_FILE", &c.Scheduler.HeartbeatFile)

	envBool("SHANNON_WEBHOOKS__ENABLED", &c.Webhooks.Enabled)
	envStr("SHANNON_WEBHOOKS__BIND", &c.Webhooks.Bind)
	envInt("SHANNON_WEBHOOKS__PORT", &c.Webhooks.Port)

	envStr("SHANNON_DISCORD__TOKEN", &c.Discord.Token)
	envStr("SHANNON_OBSERVABILITY__OTLP_ENDPOINT", &c.Observability.OTLPEndpoint)

	envStr("SHANNON_DATA_DIR", &c.DataDir)
	envStr("SHANNON_LOG_LEVEL", &c.LogLevel)
}
