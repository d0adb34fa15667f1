package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Valuation ValuationConfig `yaml:"valuation" mapstructure:"valuation"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	Schema        string `yaml:"schema" mapstructure:"schema"`
	StagingSchema string `yaml:"staging_schema" mapstructure:"staging_schema"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ValuationConfig tunes the batch pipeline.
type ValuationConfig struct {
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
	PagesPerSecond float64 `yaml:"pages_per_second" mapstructure:"pages_per_second"`
	CreatedBy      string  `yaml:"created_by" mapstructure:"created_by"`
}

// MetricsConfig configures the Prometheus endpoint served during runs.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
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
	v.SetEnvPrefix("RESERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.schema", "measure_platform")
	v.SetDefault("store.staging_schema", "public")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("valuation.page_size", 100000)
	v.SetDefault("valuation.workers", 4)
	v.SetDefault("valuation.pages_per_second", 0)
	v.SetDefault("valuation.created_by", "reserve-cli")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on. Modes: "valuate",
// "migrate", "runs", "explain", "load".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "valuate":
		errs = append(errs, c.validateStore()...)
		if c.Valuation.PageSize < 1 {
			errs = append(errs, "valuation.page_size must be > 0")
		}
		if c.Valuation.Workers < 1 || c.Valuation.Workers > 64 {
			errs = append(errs, "valuation.workers must be between 1 and 64")
		}
		if c.Valuation.PagesPerSecond < 0 {
			errs = append(errs, "valuation.pages_per_second must be >= 0")
		}
	case "migrate", "runs", "explain", "load":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, `store.driver must be "postgres" or "sqlite"`)
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		errs = append(errs, "store.min_conns must not exceed store.max_conns")
	}
	return errs
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
