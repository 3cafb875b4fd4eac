// Package config loads and validates the relay runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for relay.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Routing    RoutingConfig    `yaml:"routing"`
	Skills     SkillsConfig     `yaml:"skills"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Agent      AgentConfig      `yaml:"agent"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Turn       TurnConfig       `yaml:"turn"`
	Tools      ToolsConfig      `yaml:"tools"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// RateLimitConfig configures the per-scope token buckets.
type RateLimitConfig struct {
	User    BucketConfig `yaml:"user"`
	Channel BucketConfig `yaml:"channel"`
	LLM     BucketConfig `yaml:"llm"`
}

type BucketConfig struct {
	Capacity     int           `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// RoutingConfig configures the hybrid skill router.
type RoutingConfig struct {
	TopK              int           `yaml:"top_k"`
	MinScore          float64       `yaml:"min_score"`
	SkipThreshold     float64       `yaml:"skip_threshold"`
	ClassifierEnabled bool          `yaml:"classifier_enabled"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheMaxSize      int           `yaml:"cache_max_size"`
}

type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// ModelTiers maps a tier name (fast, balanced, smart, coding, deep)
	// to a concrete "provider/model" reference.
	ModelTiers map[string]string `yaml:"model_tiers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type EmbeddingsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// AgentConfig configures the tool loop and compaction.
type AgentConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	LLMTimeout          time.Duration `yaml:"llm_timeout"`
	MaxInputTokens      int           `yaml:"max_input_tokens"`
	CompactionMaxTokens int           `yaml:"compaction_max_tokens"`
	CompactionKeepLast  int           `yaml:"compaction_keep_last"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	ToolMaxRetries      int           `yaml:"tool_max_retries"`
	ToolMaxParallel     int           `yaml:"tool_max_parallel"`
}

type SessionsConfig struct {
	// Store selects the session backend: "memory" or "sqlite".
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ApprovalConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
	FailClosed bool          `yaml:"fail_closed"`
}

type TurnConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	BasePrompt string        `yaml:"base_prompt"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Shell ShellToolConfig `yaml:"shell"`
}

type ShellToolConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	WorkDir string        `yaml:"work_dir"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file, expanding ${ENV_VAR} references before
// parsing. Missing file is an error; defaults fill unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes config bytes and applies defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every tunable at its default value.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			User:    BucketConfig{Capacity: 30, RefillPeriod: time.Minute},
			Channel: BucketConfig{Capacity: 120, RefillPeriod: time.Minute},
			LLM:     BucketConfig{Capacity: 60, RefillPeriod: time.Minute},
		},
		Routing: RoutingConfig{
			TopK:              5,
			MinScore:          0.30,
			SkipThreshold:     0.95,
			ClassifierEnabled: true,
			Timeout:           10 * time.Second,
			CacheTTL:          60 * time.Minute,
			CacheMaxSize:      1000,
		},
		Skills: SkillsConfig{
			Dir:   "skills",
			Watch: true,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			ModelTiers: map[string]string{
				"fast":     "anthropic/claude-3-5-haiku-latest",
				"balanced": "anthropic/claude-sonnet-4-0",
				"smart":    "anthropic/claude-opus-4-0",
				"coding":   "anthropic/claude-sonnet-4-0",
				"deep":     "anthropic/claude-opus-4-0",
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Agent: AgentConfig{
			MaxIterations:       8,
			LLMTimeout:          120 * time.Second,
			MaxInputTokens:      200000,
			CompactionMaxTokens: 150000,
			CompactionKeepLast:  5,
			ToolTimeout:         60 * time.Second,
			ToolMaxRetries:      0,
			ToolMaxParallel:     4,
		},
		Sessions: SessionsConfig{
			Store:      "memory",
			SQLitePath: "relay.db",
		},
		Approval: ApprovalConfig{
			Enabled: true,
			Timeout: 60 * time.Second,
		},
		Turn: TurnConfig{
			Timeout:    300 * time.Second,
			BasePrompt: "You are a helpful assistant. Answer concisely and use tools when they help.",
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{Timeout: 30 * time.Second},
		},
		Channels: ChannelsConfig{
			WebSocket: WebSocketConfig{Addr: ":8090"},
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	fixBucket := func(b *BucketConfig, d BucketConfig) {
		if b.Capacity <= 0 {
			b.Capacity = d.Capacity
		}
		if b.RefillPeriod <= 0 {
			b.RefillPeriod = d.RefillPeriod
		}
	}
	fixBucket(&c.RateLimit.User, def.RateLimit.User)
	fixBucket(&c.RateLimit.Channel, def.RateLimit.Channel)
	fixBucket(&c.RateLimit.LLM, def.RateLimit.LLM)

	if c.Routing.TopK <= 0 {
		c.Routing.TopK = def.Routing.TopK
	}
	if c.Routing.MinScore <= 0 {
		c.Routing.MinScore = def.Routing.MinScore
	}
	if c.Routing.SkipThreshold <= 0 {
		c.Routing.SkipThreshold = def.Routing.SkipThreshold
	}
	if c.Routing.Timeout <= 0 {
		c.Routing.Timeout = def.Routing.Timeout
	}
	if c.Routing.CacheTTL <= 0 {
		c.Routing.CacheTTL = def.Routing.CacheTTL
	}
	if c.Routing.CacheMaxSize <= 0 {
		c.Routing.CacheMaxSize = def.Routing.CacheMaxSize
	}
	if c.Skills.Dir == "" {
		c.Skills.Dir = def.Skills.Dir
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = def.LLM.DefaultProvider
	}
	if len(c.LLM.ModelTiers) == 0 {
		c.LLM.ModelTiers = def.LLM.ModelTiers
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = def.Embeddings.Provider
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = def.Embeddings.Model
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if c.Agent.LLMTimeout <= 0 {
		c.Agent.LLMTimeout = def.Agent.LLMTimeout
	}
	if c.Agent.MaxInputTokens <= 0 {
		c.Agent.MaxInputTokens = def.Agent.MaxInputTokens
	}
	if c.Agent.CompactionMaxTokens <= 0 {
		c.Agent.CompactionMaxTokens = def.Agent.CompactionMaxTokens
	}
	if c.Agent.CompactionKeepLast <= 0 {
		c.Agent.CompactionKeepLast = def.Agent.CompactionKeepLast
	}
	if c.Agent.ToolTimeout <= 0 {
		c.Agent.ToolTimeout = def.Agent.ToolTimeout
	}
	if c.Agent.ToolMaxParallel <= 0 {
		c.Agent.ToolMaxParallel = def.Agent.ToolMaxParallel
	}
	if c.Sessions.Store == "" {
		c.Sessions.Store = def.Sessions.Store
	}
	if c.Sessions.SQLitePath == "" {
		c.Sessions.SQLitePath = def.Sessions.SQLitePath
	}
	if c.Approval.Timeout <= 0 {
		c.Approval.Timeout = def.Approval.Timeout
	}
	if c.Turn.Timeout <= 0 {
		c.Turn.Timeout = def.Turn.Timeout
	}
	if c.Turn.BasePrompt == "" {
		c.Turn.BasePrompt = def.Turn.BasePrompt
	}
	if c.Tools.Shell.Timeout <= 0 {
		c.Tools.Shell.Timeout = def.Tools.Shell.Timeout
	}
	if c.Channels.WebSocket.Addr == "" {
		c.Channels.WebSocket.Addr = def.Channels.WebSocket.Addr
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Sessions.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("sessions.store must be memory or sqlite, got %q", c.Sessions.Store)
	}
	for tier, ref := range c.LLM.ModelTiers {
		switch tier {
		case "fast", "balanced", "smart", "coding", "deep":
		default:
			return fmt.Errorf("llm.model_tiers: unknown tier %q", tier)
		}
		if ref == "" {
			return fmt.Errorf("llm.model_tiers: empty model for tier %q", tier)
		}
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	return nil
}
