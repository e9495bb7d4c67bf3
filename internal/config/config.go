// Package config provides YAML-based configuration loading for Roundhouse.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "roundhouse.yaml"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level Roundhouse configuration, loaded from roundhouse.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Roles       RolesConfig       `yaml:"roles"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Store       StoreConfig       `yaml:"store"`
	Retention   RetentionConfig   `yaml:"retention"`
	Subscribers SubscribersConfig `yaml:"subscribers"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig holds the LLM providers.
type GatewayConfig struct {
	OpenAI   ProviderConfig `yaml:"openai"`
	DeepSeek ProviderConfig `yaml:"deepseek"`
	// LogCost writes a generation_logs row per call when a database store is used.
	LogCost bool `yaml:"log_cost"`
}

// ProviderConfig holds connection settings for one provider. APIKey falls
// back to the environment variable named by APIKeyEnv.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURL    string `yaml:"base_url"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
}

// RolesConfig overrides role models, prompts and eligibility cues.
type RolesConfig struct {
	Pipeline           ProfilesConfig `yaml:"pipeline"`
	Broadcast          ProfilesConfig `yaml:"broadcast"`
	ImplementationCues []string       `yaml:"implementation_cues"`
	TestCues           []string       `yaml:"test_cues"`
}

// ProfilesConfig holds one profile override per role.
type ProfilesConfig struct {
	PM       ProfileConfig `yaml:"pm"`
	Engineer ProfileConfig `yaml:"engineer"`
	QA       ProfileConfig `yaml:"qa"`
}

// ProfileConfig overrides a role's model and system instruction. Empty
// fields keep the built-in defaults.
type ProfileConfig struct {
	Model  string `yaml:"model"`
	System string `yaml:"system"`
}

// PipelineConfig tunes the fixed-order orchestrator.
type PipelineConfig struct {
	EngineerTimeout time.Duration `yaml:"engineer_timeout"`
}

// BroadcastConfig bounds the group-chat orchestrator.
type BroadcastConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	MaxMessages int `yaml:"max_messages"`
}

// StoreConfig selects where conversations live.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite
	Host     string `yaml:"host"` // mysql
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetentionConfig enables eviction of settled conversations. A zero TTL
// keeps everything.
type RetentionConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Schedule string        `yaml:"schedule"`
}

// SubscribersConfig configures external event delivery.
type SubscribersConfig struct {
	Slack   ChatConfig    `yaml:"slack"`
	Discord ChatConfig    `yaml:"discord"`
	Redis   RedisConfig   `yaml:"redis"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ChatConfig configures a Slack or Discord subscriber. It is enabled when
// Channel is set.
type ChatConfig struct {
	BotToken string   `yaml:"bot_token"`
	Channel  string   `yaml:"channel"`
	Events   []string `yaml:"events"`
}

// RedisConfig configures the Redis stream subscriber. Enabled when URL is set.
type RedisConfig struct {
	URL    string   `yaml:"url"`
	Stream string   `yaml:"stream"`
	MaxLen int64    `yaml:"max_len"`
	Events []string `yaml:"events"`
}

// WebhookConfig configures the HTTP webhook subscriber. Enabled when URL is set.
type WebhookConfig struct {
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count"`
	Events     []string          `yaml:"events"`
}

// validEvents are the event names subscribers may filter on.
var validEvents = map[string]bool{
	"message":        true,
	"settled":        true,
	"depth_exceeded": true,
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	return Parse(nil)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	c.Gateway.OpenAI.applyDefaults("OPENAI_API_KEY")
	c.Gateway.DeepSeek.applyDefaults("DEEPSEEK_API_KEY")

	if c.Pipeline.EngineerTimeout == 0 {
		c.Pipeline.EngineerTimeout = 60 * time.Second
	}
	if c.Broadcast.MaxDepth == 0 {
		c.Broadcast.MaxDepth = 6
	}
	if c.Broadcast.MaxMessages == 0 {
		c.Broadcast.MaxMessages = 50
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			c.Store.Path = "roundhouse.db"
		}
	case DriverMySQL:
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.Username == "" {
			c.Store.Username = "root"
		}
		if c.Store.Database == "" {
			c.Store.Database = "roundhouse"
		}
	}

	if c.Retention.TTL > 0 && c.Retention.Schedule == "" {
		c.Retention.Schedule = "*/10 * * * *"
	}

	if c.Subscribers.Slack.BotToken == "" {
		c.Subscribers.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if c.Subscribers.Discord.BotToken == "" {
		c.Subscribers.Discord.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
	}
	if c.Subscribers.Webhook.URL != "" && c.Subscribers.Webhook.Timeout == 0 {
		c.Subscribers.Webhook.Timeout = 10 * time.Second
	}
}

func (p *ProviderConfig) applyDefaults(env string) {
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = env
	}
	if p.APIKey == "" {
		p.APIKey = os.Getenv(p.APIKeyEnv)
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Pipeline.EngineerTimeout < 0 {
		errs = append(errs, "pipeline.engineer_timeout must be positive")
	}
	if c.Broadcast.MaxDepth < 0 {
		errs = append(errs, "broadcast.max_depth must be positive")
	}
	if c.Broadcast.MaxMessages < 0 {
		errs = append(errs, "broadcast.max_messages must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, sqlite or mysql", c.Store.Driver))
	}
	if c.Retention.TTL < 0 {
		errs = append(errs, "retention.ttl must be positive")
	}

	chats := []struct {
		name string
		cfg  ChatConfig
	}{
		{"slack", c.Subscribers.Slack},
		{"discord", c.Subscribers.Discord},
	}
	for _, chat := range chats {
		if chat.cfg.Channel != "" && chat.cfg.BotToken == "" {
			errs = append(errs, fmt.Sprintf("subscribers.%s.bot_token is required when a channel is set", chat.name))
		}
		errs = append(errs, checkEvents("subscribers."+chat.name, chat.cfg.Events)...)
	}
	errs = append(errs, checkEvents("subscribers.redis", c.Subscribers.Redis.Events)...)
	errs = append(errs, checkEvents("subscribers.webhook", c.Subscribers.Webhook.Events)...)

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func checkEvents(prefix string, events []string) []string {
	var errs []string
	for i, e := range events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("%s.events[%d] %q is not a known event", prefix, i, e))
		}
	}
	return errs
}

// Configured reports whether both provider keys are present.
func (g GatewayConfig) Configured() bool {
	return g.OpenAI.APIKey != "" && g.DeepSeek.APIKey != ""
}
