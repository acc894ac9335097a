// Package config loads and validates the application configuration from a
// YAML file, environment variables (SHOPCLERK_ prefix) and defaults.
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Console   ConsoleConfig   `mapstructure:"console" yaml:"console"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Timing    TimingConfig    `mapstructure:"timing" yaml:"timing"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ConsoleConfig identifies the remote seller chat console.
type ConsoleConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the driven Chrome instance. The user data
// directory is persistent so a manual login survives restarts.
type BrowserConfig struct {
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	UserDataDir    string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args           []string `mapstructure:"args" yaml:"args"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	Locale         string   `mapstructure:"locale" yaml:"locale"`
	Timezone       string   `mapstructure:"timezone" yaml:"timezone"`
}

// TimingConfig is the anti-detection timing profile. Every randomized delay
// is drawn uniformly from its [Min, Max] interval. The profile is immutable
// for the process lifetime.
type TimingConfig struct {
	PollIntervalMin time.Duration `mapstructure:"poll_interval_min" yaml:"poll_interval_min"`
	PollIntervalMax time.Duration `mapstructure:"poll_interval_max" yaml:"poll_interval_max"`
	CharDelayMin    time.Duration `mapstructure:"char_delay_min" yaml:"char_delay_min"`
	CharDelayMax    time.Duration `mapstructure:"char_delay_max" yaml:"char_delay_max"`
	PreSendWaitMin  time.Duration `mapstructure:"pre_send_wait_min" yaml:"pre_send_wait_min"`
	PreSendWaitMax  time.Duration `mapstructure:"pre_send_wait_max" yaml:"pre_send_wait_max"`
	BetweenChatsMin time.Duration `mapstructure:"between_chats_min" yaml:"between_chats_min"`
	BetweenChatsMax time.Duration `mapstructure:"between_chats_max" yaml:"between_chats_max"`

	// Per-character probabilities for the two extra randomness sources.
	TypoProbability       float64 `mapstructure:"typo_probability" yaml:"typo_probability"`
	ThinkPauseProbability float64 `mapstructure:"think_pause_probability" yaml:"think_pause_probability"`
	TypoSimulation        bool    `mapstructure:"typo_simulation" yaml:"typo_simulation"`
}

// BackendProvider names a supported reply backend.
type BackendProvider string

const (
	ProviderGemini BackendProvider = "gemini"
	ProviderOpenAI BackendProvider = "openai"
)

// BackendConfig configures the reply generation backend.
type BackendConfig struct {
	Provider     BackendProvider `mapstructure:"provider" yaml:"provider"`
	Model        string          `mapstructure:"model" yaml:"model"`
	APIKey       string          `mapstructure:"api_key" yaml:"-"`
	Endpoint     string          `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout   time.Duration   `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature  float32         `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int             `mapstructure:"max_tokens" yaml:"max_tokens"`
	SystemPrompt string          `mapstructure:"system_prompt" yaml:"system_prompt"`
	// RequestsPerMinute caps calls to the provider across a burst of unread
	// conversations. Zero disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// KnowledgeConfig configures the knowledge-base loader.
type KnowledgeConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Folder     string `mapstructure:"folder" yaml:"folder"`
	LegacyFile string `mapstructure:"legacy_file" yaml:"legacy_file"`
}

// StoreConfig configures the embedded sqlite database backing the dedup set,
// conversation histories and stats.
type StoreConfig struct {
	Path            string `mapstructure:"path" yaml:"path"`
	DedupCap        int    `mapstructure:"dedup_cap" yaml:"dedup_cap"`
	MaxHistoryTurns int    `mapstructure:"max_history_turns" yaml:"max_history_turns"`
}

// EngineConfig tunes the poll loop and its failure handling.
type EngineConfig struct {
	AuthWaitTimeout time.Duration `mapstructure:"auth_wait_timeout" yaml:"auth_wait_timeout"`
	AuthPollEvery   time.Duration `mapstructure:"auth_poll_every" yaml:"auth_poll_every"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff" yaml:"error_backoff"`
	LocateTimeout   time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
	RuleTimeout     time.Duration `mapstructure:"rule_timeout" yaml:"rule_timeout"`
	// StatsEvery emits the human-readable stats summary every N polling
	// cycles.
	StatsEvery int `mapstructure:"stats_every" yaml:"stats_every"`
}

// DefaultSystemPrompt is the instruction set given to the reply backend when
// the operator does not supply one.
const DefaultSystemPrompt = `你是一位親切專業的電商客服人員。請用繁體中文回覆客戶問題。

回覆原則：
1. 回答要簡潔有禮貌，不超過 100 字
2. 使用友善的語氣，可適當使用表情符號
3. 如果不確定答案，請客戶稍等或聯繫人工客服
4. 不要透露你是 AI 或機器人
5. 對於訂單、物流問題，請客戶提供訂單編號以便查詢`

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "shopclerk")
	v.SetDefault("logger.log_file", "shopclerk.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Console --
	v.SetDefault("console.url", "https://seller.shopee.tw/portal/chatroom")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "~/.shopclerk/browser")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.locale", "zh-TW")
	v.SetDefault("browser.timezone", "Asia/Taipei")

	// -- Timing --
	v.SetDefault("timing.poll_interval_min", 30*time.Second)
	v.SetDefault("timing.poll_interval_max", 60*time.Second)
	v.SetDefault("timing.char_delay_min", 100*time.Millisecond)
	v.SetDefault("timing.char_delay_max", 300*time.Millisecond)
	v.SetDefault("timing.pre_send_wait_min", time.Second)
	v.SetDefault("timing.pre_send_wait_max", 3*time.Second)
	v.SetDefault("timing.between_chats_min", 2*time.Second)
	v.SetDefault("timing.between_chats_max", 5*time.Second)
	v.SetDefault("timing.typo_probability", 0.02)
	v.SetDefault("timing.think_pause_probability", 0.05)
	v.SetDefault("timing.typo_simulation", true)

	// -- Backend --
	v.SetDefault("backend.provider", "gemini")
	v.SetDefault("backend.model", "gemini-2.0-flash")
	v.SetDefault("backend.api_timeout", 30*time.Second)
	v.SetDefault("backend.temperature", 0.7)
	v.SetDefault("backend.max_tokens", 200)
	v.SetDefault("backend.system_prompt", DefaultSystemPrompt)
	v.SetDefault("backend.requests_per_minute", 20.0)

	// -- Knowledge --
	v.SetDefault("knowledge.enabled", true)
	v.SetDefault("knowledge.folder", "knowledge_base")
	v.SetDefault("knowledge.legacy_file", "knowledge_base.txt")

	// -- Store --
	v.SetDefault("store.path", "~/.shopclerk/shopclerk.db")
	v.SetDefault("store.dedup_cap", 1000)
	v.SetDefault("store.max_history_turns", 10)

	// -- Engine --
	v.SetDefault("engine.auth_wait_timeout", 5*time.Minute)
	v.SetDefault("engine.auth_poll_every", 5*time.Second)
	v.SetDefault("engine.error_backoff", 5*time.Second)
	v.SetDefault("engine.locate_timeout", 5*time.Second)
	v.SetDefault("engine.rule_timeout", 800*time.Millisecond)
	v.SetDefault("engine.stats_every", 10)
}

// NewFromViper builds a validated configuration from a viper instance.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, not the config file.
	v.BindEnv("backend.api_key", "SHOPCLERK_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in filesystem paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Browser.UserDataDir, &c.Store.Path} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Console.URL == "" {
		return fmt.Errorf("console.url is required")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	switch c.Backend.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("backend.provider %q is not supported (gemini, openai)", c.Backend.Provider)
	}
	if c.Store.DedupCap <= 0 {
		return fmt.Errorf("store.dedup_cap must be positive")
	}
	if c.Store.MaxHistoryTurns <= 0 {
		return fmt.Errorf("store.max_history_turns must be positive")
	}
	if c.Engine.AuthWaitTimeout <= 0 || c.Engine.AuthPollEvery <= 0 {
		return fmt.Errorf("engine auth wait settings must be positive")
	}
	return nil
}

// Validate checks the interval bounds and probabilities of the timing profile.
func (t *TimingConfig) Validate() error {
	bounds := []struct {
		name     string
		min, max time.Duration
	}{
		{"poll_interval", t.PollIntervalMin, t.PollIntervalMax},
		{"char_delay", t.CharDelayMin, t.CharDelayMax},
		{"pre_send_wait", t.PreSendWaitMin, t.PreSendWaitMax},
		{"between_chats", t.BetweenChatsMin, t.BetweenChatsMax},
	}
	for _, b := range bounds {
		if b.min < 0 || b.max < b.min {
			return fmt.Errorf("%s bounds invalid: min=%s max=%s", b.name, b.min, b.max)
		}
	}
	for name, p := range map[string]float64{
		"typo_probability":        t.TypoProbability,
		"think_pause_probability": t.ThinkPauseProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, p)
		}
	}
	return nil
}
