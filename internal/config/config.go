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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Scrape ScrapeConfig `yaml:"scrape" mapstructure:"scrape"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapeConfig is the operational surface of one scraper run. Its effective
// values are snapshotted verbatim into the run record for reproducibility.
type ScrapeConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Source      string  `yaml:"source" mapstructure:"source"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	Limit       int     `yaml:"limit" mapstructure:"limit"`
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout as a duration.
func (c ScrapeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Snapshot returns the effective operational parameters as an opaque map for
// the run record's config column.
func (c ScrapeConfig) Snapshot() map[string]any {
	return map[string]any{
		"base_url":   c.BaseURL,
		"source":     c.Source,
		"rate_limit": c.RateLimit,
		"timeout":    c.TimeoutSecs,
		"retries":    c.MaxRetries,
		"limit":      c.Limit,
		"max_pages":  c.MaxPages,
	}
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

	// Environment
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("scrape.base_url", "https://tender.nprocure.com")
	v.SetDefault("scrape.source", "nprocure")
	v.SetDefault("scrape.rate_limit", 1.0)
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.limit", 0)
	v.SetDefault("scrape.max_pages", 10)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

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

// Validate checks the operational parameters that make a run unstartable.
func (c *Config) Validate() error {
	if c.Scrape.RateLimit <= 0 {
		return eris.Errorf("config: rate_limit must be > 0, got %v", c.Scrape.RateLimit)
	}
	if c.Scrape.TimeoutSecs <= 0 {
		return eris.Errorf("config: timeout_secs must be > 0, got %d", c.Scrape.TimeoutSecs)
	}
	if c.Scrape.MaxRetries < 0 {
		return eris.Errorf("config: max_retries must be >= 0, got %d", c.Scrape.MaxRetries)
	}
	if c.Scrape.MaxPages <= 0 {
		return eris.Errorf("config: max_pages must be > 0, got %d", c.Scrape.MaxPages)
	}
	if c.Scrape.BaseURL == "" {
		return eris.New("config: base_url is required")
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
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
