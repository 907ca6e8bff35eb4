package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func TestApplyDefaults_ProducesValidConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultDailyLimit, cfg.Dispatch.DefaultDailyLimit)
	assert.Equal(t, DefaultSampleSizeFloor, cfg.Experiment.SampleSizeFloor)
	assert.Equal(t, DefaultMaxAttempts, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, DefaultBackoffBase, cfg.Dispatch.BackoffBase)
	assert.Equal(t, "UTC", cfg.Dispatch.WindowTimezone)
}

func TestApplyDefaults_ExplicitValuesWin(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Dispatch.DefaultDailyLimit = 40
	cfg.Dispatch.WindowTimezone = "America/New_York"
	ApplyDefaults(cfg)

	assert.Equal(t, 40, cfg.Dispatch.DefaultDailyLimit)
	assert.Equal(t, "America/New_York", cfg.Dispatch.WindowTimezone)
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad server mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
		{"zero daily limit", func(c *Config) { c.Dispatch.DefaultDailyLimit = -1 }, "default_daily_limit"},
		{"bad timezone", func(c *Config) { c.Dispatch.WindowTimezone = "Mars/Olympus" }, "window_timezone"},
		{"inverted jitter", func(c *Config) {
			c.Dispatch.MinMessageJitter = time.Minute
			c.Dispatch.MaxMessageJitter = time.Second
		}, "jitter"},
		{"inverted backoff", func(c *Config) {
			c.Dispatch.BackoffBase = time.Hour
			c.Dispatch.BackoffCap = time.Minute
		}, "backoff"},
		{"zero sample floor", func(c *Config) { c.Experiment.SampleSizeFloor = -1 }, "sample_size_floor"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"kafka topic required with brokers", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.EventsTopic = ""
		}, "events_topic"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
  mode: test
dispatch:
  default_daily_limit: 40
  messages_per_minute: 10
experiment:
  sample_size_floor: 5
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 40, cfg.Dispatch.DefaultDailyLimit)
	assert.Equal(t, 10, cfg.Dispatch.MessagesPerMinute)
	assert.Equal(t, 5, cfg.Experiment.SampleSizeFloor)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset fields fall back to defaults.
	assert.Equal(t, DefaultDBHost, cfg.Database.Host)
	assert.Equal(t, DefaultMaxAttempts, cfg.Dispatch.MaxAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OUTREACH_SERVER_PORT", "7070")
	t.Setenv("OUTREACH_DISPATCH_DEFAULT_DAILY_LIMIT", "25")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Dispatch.DefaultDailyLimit)
}
