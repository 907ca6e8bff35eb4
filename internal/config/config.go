// Package config defines all configuration structures for outreach-core.
// No I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the hot rate-window store.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds the performance-event audit stream parameters.
// Leaving Brokers empty disables publishing entirely.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	EventsTopic     string   `mapstructure:"events_topic"`
	ProducerRetries int      `mapstructure:"producer_retries"`
	BatchSize       int      `mapstructure:"batch_size"`
	TimeoutMS       int      `mapstructure:"timeout_ms"`
}

// DispatchConfig holds delivery-queue policy parameters.  The jitter and
// backoff values are policy ranges, not hard-coded constants; documented
// defaults are applied by ApplyDefaults.
type DispatchConfig struct {
	// DefaultDailyLimit is the per-account daily send ceiling used when an
	// account has no explicit limit recorded.
	DefaultDailyLimit int `mapstructure:"default_daily_limit"`

	// WindowTimezone is the IANA name of the timezone in which the daily
	// window rolls over at midnight, e.g. "America/New_York".
	WindowTimezone string `mapstructure:"window_timezone"`

	// MinMessageJitter/MaxMessageJitter bound the randomized delay inserted
	// before every send to respect platform anti-automation heuristics.
	MinMessageJitter time.Duration `mapstructure:"min_message_jitter"`
	MaxMessageJitter time.Duration `mapstructure:"max_message_jitter"`

	// MessagesPerMinute caps the steady send rate per account, layered under
	// the daily ceiling.  Zero disables the cap.
	MessagesPerMinute int `mapstructure:"messages_per_minute"`

	// MaxAttempts is the attempt ceiling for transient failures before an
	// item is marked failed.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffBase and BackoffCap parametrize exponential retry backoff:
	// delay = min(BackoffBase << (attempt-1), BackoffCap).
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	// QueueCapacity bounds the per-account in-memory queue depth.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// DeliveryConfig holds the outbound delivery channel parameters.
type DeliveryConfig struct {
	// WebhookURL receives outbound messages as JSON POSTs.  Empty selects
	// the log-only sender, useful in development.
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ExperimentConfig holds multivariant-test policy parameters.
type ExperimentConfig struct {
	// SampleSizeFloor is the minimum sent count every variant needs before
	// best-variant ranking is considered statistically meaningful.
	SampleSizeFloor int `mapstructure:"sample_size_floor"`

	// EvaluationInterval is how often the dispatcher re-checks active tests
	// for automatic completion, in addition to event-driven checks.
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
}

// Config is the root configuration structure for the entire platform.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.EventsTopic == "" {
		return fmt.Errorf("config: kafka.events_topic is required when brokers are configured")
	}

	if c.Dispatch.DefaultDailyLimit < 1 {
		return fmt.Errorf("config: dispatch.default_daily_limit must be ≥ 1, got %d", c.Dispatch.DefaultDailyLimit)
	}
	if _, err := time.LoadLocation(c.Dispatch.WindowTimezone); err != nil {
		return fmt.Errorf("config: dispatch.window_timezone %q is invalid: %w", c.Dispatch.WindowTimezone, err)
	}
	if c.Dispatch.MinMessageJitter < 0 || c.Dispatch.MaxMessageJitter < c.Dispatch.MinMessageJitter {
		return fmt.Errorf("config: dispatch jitter range [%s, %s] is invalid",
			c.Dispatch.MinMessageJitter, c.Dispatch.MaxMessageJitter)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("config: dispatch.max_attempts must be ≥ 1, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.BackoffBase <= 0 || c.Dispatch.BackoffCap < c.Dispatch.BackoffBase {
		return fmt.Errorf("config: dispatch backoff range [%s, %s] is invalid",
			c.Dispatch.BackoffBase, c.Dispatch.BackoffCap)
	}

	if c.Experiment.SampleSizeFloor < 1 {
		return fmt.Errorf("config: experiment.sample_size_floor must be ≥ 1, got %d", c.Experiment.SampleSizeFloor)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
