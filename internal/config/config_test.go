package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.Auth.RateLimitPerMinute != 10 {
		t.Errorf("rate limit = %d", cfg.Auth.RateLimitPerMinute)
	}
	if cfg.Webhooks.Port != 8420 {
		t.Errorf("webhook port = %d", cfg.Webhooks.Port)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
llm:
  provider: local
  model: qwen3
auth:
  admin_users: ["discord:1", "2"]
  rate_limit_per_minute: 5
webhooks:
  enabled: true
  endpoints:
    - name: github
      path: /hooks/github
      secret: s3cret
      channel: "discord:123"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "local" || cfg.LLM.Model != "qwen3" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if len(cfg.Auth.AdminUsers) != 2 || cfg.Auth.RateLimitPerMinute != 5 {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	// Unset fields keep defaults.
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", cfg.LLM.MaxTokens)
	}
	if len(cfg.Webhooks.Endpoints) != 1 || cfg.Webhooks.Endpoints[0].Secret != "s3cret" {
		t.Errorf("endpoints = %+v", cfg.Webhooks.Endpoints)
	}
}

func TestLoadJSON5Legacy(t *testing.T) {
	path := writeFile(t, "config.json5", `{
  // legacy format
  llm: { provider: "local" },
  context: { max_messages: 20 },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "local" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.Context.MaxMessages != 20 {
		t.Errorf("max_messages = %d", cfg.Context.MaxMessages)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHANNON_LLM__API_KEY", "sk-test")
	t.Setenv("SHANNON_AUTH__RATE_LIMIT_PER_MINUTE", "99")
	t.Setenv("SHANNON_AUTH__ADMIN_USERS", "discord:1, signal:2")
	t.Setenv("SHANNON_SCHEDULER__ENABLED", "false")
	t.Setenv("SHANNON_DATA_DIR", "/tmp/shannon-test")

	path := writeFile(t, "config.yaml", `
llm:
  api_key: from-file
auth:
  rate_limit_per_minute: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api_key = %q, env must win over file", cfg.LLM.APIKey)
	}
	if cfg.Auth.RateLimitPerMinute != 99 {
		t.Errorf("rate limit = %d", cfg.Auth.RateLimitPerMinute)
	}
	if got := cfg.Auth.AdminUsers; len(got) != 2 || got[0] != "discord:1" || got[1] != "signal:2" {
		t.Errorf("admin users = %v", got)
	}
	if cfg.Scheduler.Enabled {
		t.Error("scheduler still enabled")
	}
	if cfg.DataDir != "/tmp/shannon-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad provider", func(c *Config) { c.LLM.Provider = "gemini" }, true},
		{"threshold too high", func(c *Config) { c.Context.SummarizeThreshold = 1.5 }, true},
		{"threshold zero", func(c *Config) { c.Context.SummarizeThreshold = 0 }, true},
		{"webhook path without slash", func(c *Config) {
			c.Webhooks.Enabled = true
			c.Webhooks.Endpoints = []WebhookEndpoint{{Name: "x", Path: "hooks"}}
		}, true},
		{"duplicate webhook path", func(c *Config) {
			c.Webhooks.Enabled = true
			c.Webhooks.Endpoints = []WebhookEndpoint{
				{Name: "a", Path: "/h"},
				{Name: "b", Path: "/h"},
			}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/shannon"
	if got := cfg.ResolvedHeartbeatFile(); got != "/var/lib/shannon/heartbeat" {
		t.Errorf("heartbeat file = %q", got)
	}
	cfg.Scheduler.HeartbeatFile = "/tmp/hb"
	if got := cfg.ResolvedHeartbeatFile(); got != "/tmp/hb" {
		t.Errorf("heartbeat file = %q", got)
	}
}
