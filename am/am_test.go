package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "etlpulse.db"},
		Pulse: PulseConfig{
			WorkerID:              "worker-a",
			TickerIntervalSeconds: 30,
			Workers:               2,
		},
		Notify: NotifyConfig{MaxPerMinute: 30},
		Lease:  LeaseConfig{Backend: LeaseBackendNone, TTLSeconds: 90},
	}
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "etlpulse.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Pulse.TickerIntervalSeconds)
	assert.Equal(t, 2, cfg.Pulse.Workers)
	assert.Equal(t, 0, cfg.Pulse.JobLogMaxLines)
	assert.Equal(t, DefaultIntegrationName, cfg.Notify.IntegrationName)
	assert.Equal(t, 0, cfg.Notify.MaxPerMinute, "notifications are unthrottled by default")
	assert.Equal(t, LeaseBackendNone, cfg.Lease.Backend)
	assert.NotEmpty(t, cfg.Pulse.WorkerID, "worker id falls back to hostname")
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := `
[database]
path = "/var/lib/etlpulse/pulse.db"

[pulse]
worker_id = "etl-1"
ticker_interval_seconds = 15
workers = 4

[lease]
backend = "redis"
redis_addr = "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/etlpulse/pulse.db", cfg.Database.Path)
	assert.Equal(t, "etl-1", cfg.Pulse.WorkerID)
	assert.Equal(t, 15, cfg.Pulse.TickerIntervalSeconds)
	assert.Equal(t, 4, cfg.Pulse.Workers)
	assert.Equal(t, LeaseBackendRedis, cfg.Lease.Backend)
	assert.Equal(t, 90, cfg.Lease.TTLSeconds, "unset keys keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty worker id", func(c *Config) { c.Pulse.WorkerID = "" }, true},
		{"zero ticker interval", func(c *Config) { c.Pulse.TickerIntervalSeconds = 0 }, true},
		{"ticker interval above a minute", func(c *Config) { c.Pulse.TickerIntervalSeconds = 61 }, true},
		{"ticker interval of a minute", func(c *Config) { c.Pulse.TickerIntervalSeconds = 60 }, false},
		{"no workers", func(c *Config) { c.Pulse.Workers = 0 }, true},
		{"negative log cap", func(c *Config) { c.Pulse.JobLogMaxLines = -1 }, true},
		{"negative notify rate", func(c *Config) { c.Notify.MaxPerMinute = -1 }, true},
		{"smtp without from", func(c *Config) { c.Notify.SMTP.Host = "mail" }, true},
		{"unknown lease backend", func(c *Config) { c.Lease.Backend = "etcd" }, true},
		{"redis without addr", func(c *Config) { c.Lease.Backend = LeaseBackendRedis; c.Lease.RedisAddr = "" }, true},
		{"lease ttl not above tick", func(c *Config) { c.Lease.Backend = LeaseBackendLocal; c.Lease.TTLSeconds = 30 }, true},
		{"local lease", func(c *Config) { c.Lease.Backend = LeaseBackendLocal }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultWorkerID(t *testing.T) {
	assert.NotEmpty(t, DefaultWorkerID())
}
