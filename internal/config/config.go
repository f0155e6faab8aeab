// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Merge     MergeConfig     `yaml:"merge" mapstructure:"merge"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ScrapeConfig holds the structured fragrance source settings.
type ScrapeConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	SourcesFile       string  `yaml:"sources_file" mapstructure:"sources_file"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// MergeConfig tunes the field merge rules.
type MergeConfig struct {
	CorrectionMargin    float64 `yaml:"correction_margin" mapstructure:"correction_margin"`
	PricingStaleDays    int     `yaml:"pricing_stale_days" mapstructure:"pricing_stale_days"`
	AutoSelectThreshold float64 `yaml:"auto_select_threshold" mapstructure:"auto_select_threshold"`
}

// PricingConfig holds per-source cost rates.
type PricingConfig struct {
	AIAnalysisPerRequest float64 `yaml:"ai_analysis_per_request" mapstructure:"ai_analysis_per_request"`
	WebScrapePerRequest  float64 `yaml:"web_scrape_per_request" mapstructure:"web_scrape_per_request"`
}

// PipelineConfig tunes the processing run.
type PipelineConfig struct {
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxItems         int     `yaml:"max_items" mapstructure:"max_items"`
	MaxCostPerItem   float64 `yaml:"max_cost_per_item" mapstructure:"max_cost_per_item"`
	MaxTotalCost     float64 `yaml:"max_total_cost" mapstructure:"max_total_cost"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	StaleAfterMins   int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (if present) and CATALOG_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("scrape.base_url", "")
	v.SetDefault("scrape.sources_file", "")
	v.SetDefault("scrape.user_agent", "")
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.requests_per_second", 2.0)
	v.SetDefault("merge.correction_margin", 0.15)
	v.SetDefault("merge.pricing_stale_days", 30)
	v.SetDefault("merge.auto_select_threshold", 0.8)
	v.SetDefault("pricing.ai_analysis_per_request", 0.02)
	v.SetDefault("pricing.web_scrape_per_request", 0.005)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.max_items", 50)
	v.SetDefault("pipeline.fetch_timeout_secs", 120)
	v.SetDefault("pipeline.stale_after_mins", 30)

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

// Validate checks that the configuration is sufficient for the given mode.
// Modes: "serve", "process", "import", "admin".
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Merge.CorrectionMargin < 0 || c.Merge.CorrectionMargin > 1 {
		problems = append(problems, "merge.correction_margin must be between 0 and 1")
	}
	if c.Merge.AutoSelectThreshold < 0 || c.Merge.AutoSelectThreshold > 1 {
		problems = append(problems, "merge.auto_select_threshold must be between 0 and 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "process":
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 16 {
			problems = append(problems, "pipeline.concurrency must be between 1 and 16")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Scrape.BaseURL == "" && c.Scrape.SourcesFile == "" {
			problems = append(problems, "scrape.base_url or scrape.sources_file is required")
		}
	case "import", "admin":
		// Store checks above are sufficient.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for mode %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// MergeRules converts the configured merge knobs into merge.Rules.
func (c *Config) MergeRules() merge.Rules {
	rules := merge.DefaultRules()
	if c.Merge.CorrectionMargin > 0 {
		rules.CorrectionMargin = c.Merge.CorrectionMargin
	}
	if c.Merge.PricingStaleDays > 0 {
		rules.PricingStaleAfter = time.Duration(c.Merge.PricingStaleDays) * 24 * time.Hour
	}
	return rules
}

// CostRates converts the configured pricing into cost.Rates.
func (c *Config) CostRates() cost.Rates {
	rates := cost.DefaultRates()
	if c.Pricing.AIAnalysisPerRequest > 0 {
		rates.AIAnalysis = c.Pricing.AIAnalysisPerRequest
	}
	if c.Pricing.WebScrapePerRequest > 0 {
		rates.WebScrape = c.Pricing.WebScrapePerRequest
	}
	return rates
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
