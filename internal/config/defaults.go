package config

import "time"

// Default value constants.  These are the documented defaults for every
// policy parameter; explicit configuration always wins.
const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "outreach"
	DefaultDBSSLMode  = "disable"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "outreach:"

	DefaultKafkaEventsTopic = "outreach.performance.events"

	DefaultDailyLimit        = 50
	DefaultWindowTimezone    = "UTC"
	DefaultMinMessageJitter  = 30 * time.Second
	DefaultMaxMessageJitter  = 3 * time.Minute
	DefaultMessagesPerMinute = 2
	DefaultMaxAttempts       = 5
	DefaultBackoffBase       = 30 * time.Second
	DefaultBackoffCap        = 30 * time.Minute
	DefaultQueueCapacity     = 1000

	DefaultSampleSizeFloor    = 20
	DefaultEvaluationInterval = 5 * time.Minute

	DefaultMetricsNamespace = "outreach"
	DefaultMetricsPath      = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// It must be called after unmarshalling raw config data and before Validate()
// so that optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "outreach"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultDBSSLMode
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultDBMaxConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.Kafka.EventsTopic == "" {
		cfg.Kafka.EventsTopic = DefaultKafkaEventsTopic
	}
	if cfg.Kafka.ProducerRetries == 0 {
		cfg.Kafka.ProducerRetries = 3
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.TimeoutMS == 0 {
		cfg.Kafka.TimeoutMS = 10000
	}

	if cfg.Dispatch.DefaultDailyLimit == 0 {
		cfg.Dispatch.DefaultDailyLimit = DefaultDailyLimit
	}
	if cfg.Dispatch.WindowTimezone == "" {
		cfg.Dispatch.WindowTimezone = DefaultWindowTimezone
	}
	if cfg.Dispatch.MinMessageJitter == 0 {
		cfg.Dispatch.MinMessageJitter = DefaultMinMessageJitter
	}
	if cfg.Dispatch.MaxMessageJitter == 0 {
		cfg.Dispatch.MaxMessageJitter = DefaultMaxMessageJitter
	}
	if cfg.Dispatch.MessagesPerMinute == 0 {
		cfg.Dispatch.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dispatch.BackoffBase == 0 {
		cfg.Dispatch.BackoffBase = DefaultBackoffBase
	}
	if cfg.Dispatch.BackoffCap == 0 {
		cfg.Dispatch.BackoffCap = DefaultBackoffCap
	}
	if cfg.Dispatch.QueueCapacity == 0 {
		cfg.Dispatch.QueueCapacity = DefaultQueueCapacity
	}

	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = 30 * time.Second
	}

	if cfg.Experiment.SampleSizeFloor == 0 {
		cfg.Experiment.SampleSizeFloor = DefaultSampleSizeFloor
	}
	if cfg.Experiment.EvaluationInterval == 0 {
		cfg.Experiment.EvaluationInterval = DefaultEvaluationInterval
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
