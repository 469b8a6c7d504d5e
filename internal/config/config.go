package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is read once at
// startup and never mutated.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Decision   DecisionConfig   `yaml:"decision" mapstructure:"decision"`
	Submission SubmissionConfig `yaml:"submission" mapstructure:"submission"`
	ErrorLog   ErrorLogConfig   `yaml:"error_log" mapstructure:"error_log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SchedulerConfig configures the task scheduler and its worker pool.
type SchedulerConfig struct {
	Workers          int                `yaml:"workers" mapstructure:"workers" validate:"min=1"`
	QueueCapacity    int                `yaml:"queue_capacity" mapstructure:"queue_capacity" validate:"min=1"`
	TaskTimeoutSecs  int                `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs" validate:"min=1"`
	RequeueDelayMs   int                `yaml:"requeue_delay_ms" mapstructure:"requeue_delay_ms"`
	HistoryLimit     int                `yaml:"history_limit" mapstructure:"history_limit" validate:"min=1"`
	MonitorEverySecs int                `yaml:"monitor_every_secs" mapstructure:"monitor_every_secs"`
	RateLimits       map[string]float64 `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// TaskTimeout returns the per-task default timeout as a duration.
func (c SchedulerConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSecs) * time.Second
}

// RequeueDelay returns the dependency-wait requeue backoff as a duration.
func (c SchedulerConfig) RequeueDelay() time.Duration {
	return time.Duration(c.RequeueDelayMs) * time.Millisecond
}

// RetryConfig configures retry budgets and backoff.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"min=1"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"min=1"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gt=0"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
}

// InitialBackoff returns the base delay as a duration.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff ceiling as a duration.
func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// CheckpointConfig configures checkpoint cadence and caching.
type CheckpointConfig struct {
	IntervalStages int `yaml:"interval_stages" mapstructure:"interval_stages" validate:"min=1"`
	CacheSize      int `yaml:"cache_size" mapstructure:"cache_size" validate:"min=1"`
}

// DecisionConfig configures the decision engine thresholds and weights.
type DecisionConfig struct {
	SubmitThreshold    float64            `yaml:"submit_threshold" mapstructure:"submit_threshold" validate:"gte=0,lte=1"`
	PriorityThreshold  float64            `yaml:"priority_threshold" mapstructure:"priority_threshold" validate:"gte=0,lte=1"`
	UrgentThreshold    float64            `yaml:"urgent_threshold" mapstructure:"urgent_threshold" validate:"gte=0,lte=1"`
	MinSalary          float64            `yaml:"min_salary" mapstructure:"min_salary"`
	PreferredLocations []string           `yaml:"preferred_locations" mapstructure:"preferred_locations"`
	Weights            map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// SubmissionConfig configures global submission policy constraints.
type SubmissionConfig struct {
	MaxPerDay          int      `yaml:"max_per_day" mapstructure:"max_per_day" validate:"min=0"`
	MaxPerOrganization int      `yaml:"max_per_organization" mapstructure:"max_per_organization" validate:"min=0"`
	Blacklist          []string `yaml:"blacklist" mapstructure:"blacklist"`
	RatePerMinute      float64  `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
}

// ErrorLogConfig configures the durable error log and in-memory history.
type ErrorLogConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	HistorySize int    `yaml:"history_size" mapstructure:"history_size" validate:"min=1"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// LogConfig configures application logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// DefaultWeights are the decision dimension weights used when none are
// configured.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"match":       0.3,
		"reputation":  0.2,
		"salary":      0.2,
		"location":    0.1,
		"growth":      0.1,
		"competition": 0.1,
	}
}

// Load reads configuration from config.yaml (optional) and APPLY_*
// environment variables, applying defaults for everything else.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("APPLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "apply.db")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_capacity", 256)
	v.SetDefault("scheduler.task_timeout_secs", 120)
	v.SetDefault("scheduler.requeue_delay_ms", 50)
	v.SetDefault("scheduler.history_limit", 500)
	v.SetDefault("scheduler.monitor_every_secs", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("checkpoint.interval_stages", 1)
	v.SetDefault("checkpoint.cache_size", 64)
	v.SetDefault("decision.submit_threshold", 0.65)
	v.SetDefault("decision.priority_threshold", 0.75)
	v.SetDefault("decision.urgent_threshold", 0.85)
	v.SetDefault("decision.weights", DefaultWeights())
	v.SetDefault("submission.max_per_day", 10)
	v.SetDefault("submission.max_per_organization", 2)
	v.SetDefault("submission.rate_per_minute", 6.0)
	v.SetDefault("error_log.dir", "errors")
	v.SetDefault("error_log.history_size", 1000)
	v.SetDefault("server.port", 8080)
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the loaded configuration against struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.Decision.SubmitThreshold > c.Decision.PriorityThreshold ||
		c.Decision.PriorityThreshold > c.Decision.UrgentThreshold {
		return eris.New("config: decision thresholds must be ordered submit <= priority <= urgent")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url required for postgres driver")
	}
	return nil
}

// InitLogger configures the global zap logger.
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
