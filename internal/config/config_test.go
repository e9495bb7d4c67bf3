package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  host: 0.0.0.0
  port: 9090
  shutdown_timeout: 5s

gateway:
  openai:
    api_key: sk-file
    base_url: http://localhost:4000/v1
    max_tokens: 1024
  deepseek:
    api_key_env: DS_KEY
  log_cost: true

roles:
  pipeline:
    qa:
      model: gpt-4o
  broadcast:
    pm:
      system: "You are terse."
  implementation_cues: ["build"]
  test_cues: ["verify"]

pipeline:
  engineer_timeout: 90s

broadcast:
  max_depth: 4
  max_messages: 20

store:
  driver: mysql
  host: db.internal
  database: rh

retention:
  ttl: 24h

subscribers:
  slack:
    bot_token: xoxb-1
    channel: C123
    events: [settled, depth_exceeded]
  redis:
    url: redis://localhost:6379/0
    stream: rh_events
    max_len: 10000
  webhook:
    url: https://hooks.example.com/rh
    headers:
      Authorization: Bearer abc
    retry_count: 2
`

func TestParse_FullConfig(t *testing.T) {
	t.Setenv("DS_KEY", "ds-env")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %s, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Gateway.OpenAI.APIKey != "sk-file" {
		t.Errorf("OpenAI.APIKey = %q, want %q", cfg.Gateway.OpenAI.APIKey, "sk-file")
	}
	if cfg.Gateway.OpenAI.MaxTokens != 1024 {
		t.Errorf("OpenAI.MaxTokens = %d, want 1024", cfg.Gateway.OpenAI.MaxTokens)
	}
	if cfg.Gateway.DeepSeek.APIKey != "ds-env" {
		t.Errorf("DeepSeek.APIKey = %q, want %q (from DS_KEY)", cfg.Gateway.DeepSeek.APIKey, "ds-env")
	}
	if !cfg.Gateway.LogCost {
		t.Error("Gateway.LogCost = false, want true")
	}
	if cfg.Roles.Pipeline.QA.Model != "gpt-4o" {
		t.Errorf("Roles.Pipeline.QA.Model = %q, want gpt-4o", cfg.Roles.Pipeline.QA.Model)
	}
	if cfg.Roles.Broadcast.PM.System != "You are terse." {
		t.Errorf("Roles.Broadcast.PM.System = %q", cfg.Roles.Broadcast.PM.System)
	}
	if len(cfg.Roles.ImplementationCues) != 1 || cfg.Roles.TestCues[0] != "verify" {
		t.Errorf("cues = %v / %v", cfg.Roles.ImplementationCues, cfg.Roles.TestCues)
	}
	if cfg.Pipeline.EngineerTimeout != 90*time.Second {
		t.Errorf("EngineerTimeout = %s, want 90s", cfg.Pipeline.EngineerTimeout)
	}
	if cfg.Broadcast.MaxDepth != 4 || cfg.Broadcast.MaxMessages != 20 {
		t.Errorf("Broadcast = %+v", cfg.Broadcast)
	}
	if cfg.Store.Driver != DriverMySQL || cfg.Store.Host != "db.internal" || cfg.Store.Port != 3306 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.Username != "root" {
		t.Errorf("Store.Username = %q, want root (default)", cfg.Store.Username)
	}
	if cfg.Retention.TTL != 24*time.Hour || cfg.Retention.Schedule != "*/10 * * * *" {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
	if cfg.Subscribers.Slack.Channel != "C123" || len(cfg.Subscribers.Slack.Events) != 2 {
		t.Errorf("Slack = %+v", cfg.Subscribers.Slack)
	}
	if cfg.Subscribers.Redis.MaxLen != 10000 {
		t.Errorf("Redis.MaxLen = %d", cfg.Subscribers.Redis.MaxLen)
	}
	if cfg.Subscribers.Webhook.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("Webhook.Headers = %v", cfg.Subscribers.Webhook.Headers)
	}
	if cfg.Subscribers.Webhook.Timeout != 10*time.Second {
		t.Errorf("Webhook.Timeout = %s, want 10s (default)", cfg.Subscribers.Webhook.Timeout)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DEEPSEEK_API_KEY", "")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Pipeline.EngineerTimeout != 60*time.Second {
		t.Errorf("EngineerTimeout = %s, want 60s", cfg.Pipeline.EngineerTimeout)
	}
	if cfg.Broadcast.MaxDepth != 6 || cfg.Broadcast.MaxMessages != 50 {
		t.Errorf("Broadcast = %+v, want 6/50", cfg.Broadcast)
	}
	if cfg.Gateway.OpenAI.APIKey != "sk-env" {
		t.Errorf("OpenAI.APIKey = %q, want sk-env", cfg.Gateway.OpenAI.APIKey)
	}
	if cfg.Gateway.Configured() {
		t.Error("Configured() = true without a DeepSeek key")
	}
	if cfg.Retention.Schedule != "" {
		t.Errorf("Retention.Schedule = %q, want empty when ttl is 0", cfg.Retention.Schedule)
	}
}

func TestParse_SQLiteDefaults(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: SQLite\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Store.Path != "roundhouse.db" {
		t.Errorf("Path = %q, want roundhouse.db", cfg.Store.Path)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "store:\n  driver: postgres\n", "store.driver"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"negative depth", "broadcast:\n  max_depth: -1\n", "broadcast.max_depth"},
		{"slack without token", "subscribers:\n  slack:\n    channel: C1\n", "subscribers.slack.bot_token"},
		{"unknown event", "subscribers:\n  webhook:\n    url: http://x\n    events: [nope]\n", "subscribers.webhook.events[0]"},
		{"negative ttl", "retention:\n  ttl: -1h\n", "retention.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SLACK_BOT_TOKEN", "")
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundhouse.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(missing); err == nil {
		t.Fatal("expected error for missing file")
	}
	cfg, err := LoadOrDefault(missing)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RH_TEST_ENV_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RH_TEST_ENV_KEY", "")
	os.Unsetenv("RH_TEST_ENV_KEY")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("RH_TEST_ENV_KEY"); got != "from-dotenv" {
		t.Errorf("RH_TEST_ENV_KEY = %q, want from-dotenv", got)
	}
}
