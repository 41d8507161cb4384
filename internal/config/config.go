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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the explanation artifact cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string `yaml:"backend" mapstructure:"backend"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr  string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB    int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLHours   int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// JobsConfig configures the explanation job orchestrator.
type JobsConfig struct {
	Workers           int `yaml:"workers" mapstructure:"workers"`
	DefaultSampleSize int `yaml:"default_sample_size" mapstructure:"default_sample_size"`
}

// QualityConfig configures the quality evaluator.
type QualityConfig struct {
	RobustnessRounds int     `yaml:"robustness_rounds" mapstructure:"robustness_rounds"`
	Epsilon          float64 `yaml:"epsilon" mapstructure:"epsilon"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port          int     `yaml:"port" mapstructure:"port"`
	SubmitRateRPS float64 `yaml:"submit_rate_rps" mapstructure:"submit_rate_rps"`
	SubmitBurst   int     `yaml:"submit_burst" mapstructure:"submit_burst"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QualityFloor         float64 `yaml:"quality_floor" mapstructure:"quality_floor"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
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
	v.SetEnvPrefix("XAIBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "xaibench.db")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.default_sample_size", 100)
	v.SetDefault("quality.robustness_rounds", 10)
	v.SetDefault("quality.epsilon", 0.05)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.submit_rate_rps", 10)
	v.SetDefault("server.submit_burst", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.quality_floor", 0.3)
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

// Validate checks that the configuration is usable for serving.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, "cache.backend must be memory or redis")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		problems = append(problems, "cache.redis_addr is required for redis")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be > 0")
	}
	if c.Jobs.Workers < 1 || c.Jobs.Workers > 64 {
		problems = append(problems, "jobs.workers must be between 1 and 64")
	}
	if c.Quality.RobustnessRounds < 1 {
		problems = append(problems, "quality.robustness_rounds must be >= 1")
	}
	if c.Quality.Epsilon <= 0 || c.Quality.Epsilon > 1 {
		problems = append(problems, "quality.epsilon must be in (0, 1]")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be in [0, 1]")
	}
	if c.Monitoring.QualityFloor < 0 || c.Monitoring.QualityFloor > 1 {
		problems = append(problems, "monitoring.quality_floor must be in [0, 1]")
	}

	if len(problems) > 0 {
		return eris.New("config: invalid configuration: " + strings.Join(problems, "; "))
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
