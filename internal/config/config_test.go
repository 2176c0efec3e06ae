package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, int64(defaultMaxUploadMB), cfg.Server.MaxUploadMB)
	assert.Equal(t, defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "EvInfo", cfg.Analytics.Table)
	assert.Equal(t, defaultPipelineQueueSize, cfg.Pipeline.QueueSize)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.S3.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  shutdownTimeout: 3s
store:
  directory: "/tmp/dbs"
  watch: true
kafka:
  enabled: true
  brokers: ["broker-1:9092", "broker-2:9092"]
  topic: "lags"
log:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/dbs", cfg.Store.Directory)
	assert.True(t, cfg.Store.Watch)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "lags", cfg.Kafka.Topic)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "EvInfo", cfg.Analytics.Table)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SQLITELENS_SERVER_ADDR", ":7070")
	t.Setenv("SQLITELENS_ANALYTICS_TABLE", "Events")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "Events", cfg.Analytics.Table)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, ErrEmptyServerAddr},
		{"zero upload limit", func(c *Config) { c.Server.MaxUploadMB = 0 }, ErrInvalidUploadLimit},
		{"empty store", func(c *Config) { c.Store.Directory = "" }, ErrEmptyStoreDirectory},
		{"empty table", func(c *Config) { c.Analytics.Table = "" }, ErrEmptyAnalyticsTable},
		{"zero queue", func(c *Config) { c.Pipeline.QueueSize = 0 }, ErrInvalidPipelineQueue},
		{"s3 without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Region = "eu-west-1" }, ErrEmptyS3Bucket},
		{"s3 without region", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "dbs" }, ErrEmptyS3Region},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, ErrEmptyKafkaBrokers},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = ""
		}, ErrEmptyKafkaTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Server:    ServerConfig{Addr: ":8080", MaxUploadMB: 1},
				Store:     StoreConfig{Directory: "data"},
				Analytics: AnalyticsConfig{Table: "EvInfo"},
				Pipeline:  PipelineConfig{QueueSize: 1},
				Kafka:     KafkaConfig{Topic: "t"},
			}
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
