package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	NATS      NATSConfig      `yaml:"nats" mapstructure:"nats"`
	Qualify   QualifyConfig   `yaml:"qualify" mapstructure:"qualify"`
	Structure StructureConfig `yaml:"structure" mapstructure:"structure"`
	QA        QAConfig        `yaml:"qa" mapstructure:"qa"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	RulesPath string          `yaml:"rules_path" mapstructure:"rules_path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings for the extraction oracle.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina search settings used by the QA engine.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// NATSConfig configures the promo path subscriptions.
type NATSConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	QueueGroup    string `yaml:"queue_group" mapstructure:"queue_group"`
}

// QualifyConfig holds the quality gate thresholds.
type QualifyConfig struct {
	MinReviews   int     `yaml:"min_reviews" mapstructure:"min_reviews"`
	MinScore     float64 `yaml:"min_score" mapstructure:"min_score"`
	FloorReviews int     `yaml:"floor_reviews" mapstructure:"floor_reviews"`
	FloorScore   float64 `yaml:"floor_score" mapstructure:"floor_score"`
}

// RetryConfig mirrors resilience.RetryConfig for file/env configuration.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// StructureConfig configures the structuring phase.
type StructureConfig struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec    float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CallTimeout   time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	SkipProcessed bool          `yaml:"skip_processed" mapstructure:"skip_processed"`
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// QAConfig configures automated scoring and manual-review triggers.
type QAConfig struct {
	HighThreshold float64       `yaml:"high_threshold" mapstructure:"high_threshold"`
	LowThreshold  float64       `yaml:"low_threshold" mapstructure:"low_threshold"`
	TopN          int           `yaml:"top_n" mapstructure:"top_n"`
	HighVolume    int           `yaml:"high_volume" mapstructure:"high_volume"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec    float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CallTimeout   time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.promo-cli")

	// Environment
	v.SetEnvPrefix("PROMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "promo.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "promo")
	v.SetDefault("nats.queue_group", "promo-ingest")
	v.SetDefault("qualify.min_reviews", 100)
	v.SetDefault("qualify.min_score", 4.0)
	v.SetDefault("qualify.floor_reviews", 50)
	v.SetDefault("qualify.floor_score", 4.8)
	v.SetDefault("structure.concurrency", 5)
	v.SetDefault("structure.rate_per_sec", 2.0)
	v.SetDefault("structure.call_timeout", 30*time.Second)
	v.SetDefault("structure.retry.max_attempts", 3)
	v.SetDefault("structure.retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("structure.retry.max_backoff", 30*time.Second)
	v.SetDefault("qa.high_threshold", 0.6)
	v.SetDefault("qa.low_threshold", 0.2)
	v.SetDefault("qa.top_n", 10)
	v.SetDefault("qa.high_volume", 1000)
	v.SetDefault("qa.concurrency", 5)
	v.SetDefault("qa.rate_per_sec", 2.0)
	v.SetDefault("qa.call_timeout", 15*time.Second)
	v.SetDefault("qa.retry.max_attempts", 3)
	v.SetDefault("qa.retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("qa.retry.max_backoff", 10*time.Second)

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

	return &cfg, nil
}

// Validate checks the keys a command mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "store.sqlite_path")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch mode {
	case "structure":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "qa":
		if c.Jina.Key == "" {
			missing = append(missing, "jina.key")
		}
	case "run":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
		if c.Jina.Key == "" {
			missing = append(missing, "jina.key")
		}
	case "consume":
		if c.NATS.URL == "" {
			missing = append(missing, "nats.url")
		}
	}

	if c.QA.LowThreshold > c.QA.HighThreshold {
		return eris.Errorf("config: qa.low_threshold %.2f exceeds qa.high_threshold %.2f", c.QA.LowThreshold, c.QA.HighThreshold)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", mode, strings.Join(missing, ", "))
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
