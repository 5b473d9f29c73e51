package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Context  ContextConfig  `yaml:"context" mapstructure:"context"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Limits   model.Limits   `yaml:"limits" mapstructure:"limits"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Monitor  MonitorConfig  `yaml:"monitor" mapstructure:"monitor"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	MaxConns    int32         `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32         `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// LLMConfig selects the model provider and its credentials.
type LLMConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic gemini openai"`
	ContextModel  string        `yaml:"context_model" mapstructure:"context_model" validate:"required"`
	ExtractModel  string        `yaml:"extract_model" mapstructure:"extract_model" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	AnthropicKey  string        `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	GeminiKey     string        `yaml:"gemini_key" mapstructure:"gemini_key"`
	OpenAIKey     string        `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	CacheDir      string        `yaml:"cache_dir" mapstructure:"cache_dir"`
	CacheTTL      time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"gte=0"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig configures the per-provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gt=0"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"gt=0"`
}

// RetryConfig is the shared retry policy for scrape and LLM calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gt=0"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gtefield=InitialBackoffMs"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	Engine     string        `yaml:"engine" mapstructure:"engine" validate:"oneof=http browser auto"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"gt=0"`
	Burst      int           `yaml:"burst" mapstructure:"burst" validate:"gte=1"`
	Browser    BrowserConfig `yaml:"browser" mapstructure:"browser"`
	// DiscoverMaxPages caps directory pages fetched per discovery walk.
	DiscoverMaxPages int `yaml:"discover_max_pages" mapstructure:"discover_max_pages" validate:"gte=1"`
}

// BrowserConfig configures the headless browser scraper.
type BrowserConfig struct {
	Headless  bool   `yaml:"headless" mapstructure:"headless"`
	Bin       string `yaml:"bin" mapstructure:"bin"`
	NoSandbox bool   `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	PoolSize  int    `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=1"`
}

// ContextConfig bounds the context generation prompt and output.
type ContextConfig struct {
	MaxFieldChars  int `yaml:"max_field_chars" mapstructure:"max_field_chars" validate:"gt=0"`
	MaxPromptChars int `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars" validate:"gtfield=MaxFieldChars"`
	MaxLength      int `yaml:"max_length" mapstructure:"max_length" validate:"gt=0"`
	MaxTokens      int `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
}

// ExtractConfig configures attribute extraction.
type ExtractConfig struct {
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
}

// PipelineConfig configures orchestrator behavior.
type PipelineConfig struct {
	MinConfidence float64       `yaml:"min_confidence" mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	LeaseTTL      time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl" validate:"gt=0"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RetrySchedule string   `yaml:"retry_schedule" mapstructure:"retry_schedule"`
}

// MonitorConfig configures the background health checker and its webhook
// alerts. The checker is off when WebhookURL is empty.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gt=0"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	MinFinished          int     `yaml:"min_finished" mapstructure:"min_finished" validate:"gte=0"`
	StalledAfterMins     int     `yaml:"stalled_after_mins" mapstructure:"stalled_after_mins" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment. An explicit path
// takes precedence over the search locations.
func Load(path ...string) (*Config, error) {
	v := viper.New()

	// Config file
	if len(path) > 0 && path[0] != "" {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hotelx")
	}

	// Environment
	v.SetEnvPrefix("HOTELX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	limits := model.DefaultLimits()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "hotelx.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.timeout", 10*time.Second)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.context_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.anthropic_key", "")
	v.SetDefault("llm.gemini_key", "")
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.openai_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.cache_dir", "")
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.circuit.failure_threshold", 5)
	v.SetDefault("llm.circuit.reset_timeout_secs", 30)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)

	v.SetDefault("scrape.engine", "auto")
	v.SetDefault("scrape.timeout", 30*time.Second)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; hotelx/1.0)")
	v.SetDefault("scrape.rate_per_sec", 2.0)
	v.SetDefault("scrape.burst", 2)
	v.SetDefault("scrape.browser.headless", true)
	v.SetDefault("scrape.browser.bin", "")
	v.SetDefault("scrape.browser.no_sandbox", false)
	v.SetDefault("scrape.browser.pool_size", 2)
	v.SetDefault("scrape.discover_max_pages", 2000)

	v.SetDefault("context.max_field_chars", 4000)
	v.SetDefault("context.max_prompt_chars", 24000)
	v.SetDefault("context.max_length", 20000)
	v.SetDefault("context.max_tokens", 4096)

	v.SetDefault("extract.max_tokens", 4096)

	v.SetDefault("limits.max_deposit", limits.MaxDeposit)
	v.SetDefault("limits.max_fee", limits.MaxFee)
	v.SetDefault("limits.max_weight_lbs", limits.MaxWeightLbs)
	v.SetDefault("limits.max_pets", limits.MaxPets)
	v.SetDefault("limits.max_pet_age_months", limits.MaxPetAgeMonths)

	v.SetDefault("pipeline.min_confidence", 0.0)
	v.SetDefault("pipeline.lease_ttl", 10*time.Minute)
	v.SetDefault("pipeline.concurrency", 4)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.retry_schedule", "")

	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.2)
	v.SetDefault("monitor.min_finished", 5)
	v.SetDefault("monitor.stalled_after_mins", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges and cross-field requirements. Credentials
// are checked when the store and LLM clients are built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
