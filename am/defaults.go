package am

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultIntegrationName is the integration the failure notifier looks up
const DefaultIntegrationName = "Default Failure Email"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "etlpulse.db")

	v.SetDefault("pulse.worker_id", "") // resolved to hostname after unmarshal
	v.SetDefault("pulse.ticker_interval_seconds", 30)
	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.job_log_max_lines", 0)
	v.SetDefault("pulse.run_now_priority", 100)

	v.SetDefault("notify.customer_name", "etlpulse")
	v.SetDefault("notify.integration_name", DefaultIntegrationName)
	v.SetDefault("notify.max_per_minute", 0) // unthrottled
	v.SetDefault("notify.smtp.port", 587)

	v.SetDefault("lease.backend", LeaseBackendNone)
	v.SetDefault("lease.redis_addr", "localhost:6379")
	v.SetDefault("lease.redis_db", 0)
	v.SetDefault("lease.ttl_seconds", 90)

	v.SetDefault("server.addr", ":8787")
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "ETLPULSE_DATABASE_PATH")
	v.BindEnv("notify.smtp.password", "ETLPULSE_SMTP_PASSWORD")
	v.BindEnv("lease.redis_password", "ETLPULSE_REDIS_PASSWORD")
}

func (c *Config) applyDerivedDefaults() {
	if c.Pulse.WorkerID == "" {
		c.Pulse.WorkerID = DefaultWorkerID()
	}
}

// DefaultWorkerID returns the hostname, or a random id when it is unavailable
func DefaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-" + uuid.NewString()[:8]
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "etlpulse.db"
	}
	return c.Database.Path
}
