package am

import "time"

// Config represents the etlpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" json:"pulse" yaml:"pulse" toml:"pulse"`
	Notify   NotifyConfig   `mapstructure:"notify" json:"notify" yaml:"notify" toml:"notify"`
	Lease    LeaseConfig    `mapstructure:"lease" json:"lease" yaml:"lease" toml:"lease"`
	Server   ServerConfig   `mapstructure:"server" json:"server" yaml:"server" toml:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path" toml:"path"`
}

// PulseConfig configures the scheduler, the job queue and the worker pool
type PulseConfig struct {
	// Jobs and schedules are partitioned by worker id; a process only
	// evaluates schedules carrying its own id.
	WorkerID string `mapstructure:"worker_id" json:"worker_id" yaml:"worker_id" toml:"worker_id"`

	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" json:"ticker_interval_seconds" yaml:"ticker_interval_seconds" toml:"ticker_interval_seconds"`
	Workers               int `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers"`

	// 0 = unbounded job log buffering
	JobLogMaxLines int `mapstructure:"job_log_max_lines" json:"job_log_max_lines" yaml:"job_log_max_lines" toml:"job_log_max_lines"`

	// Priority assigned to jobs started with "schedule run"
	RunNowPriority int `mapstructure:"run_now_priority" json:"run_now_priority" yaml:"run_now_priority" toml:"run_now_priority"`
}

// NotifyConfig configures failure notifications
type NotifyConfig struct {
	CustomerName    string     `mapstructure:"customer_name" json:"customer_name" yaml:"customer_name" toml:"customer_name"`
	IntegrationName string     `mapstructure:"integration_name" json:"integration_name" yaml:"integration_name" toml:"integration_name"`
	MaxPerMinute    int        `mapstructure:"max_per_minute" json:"max_per_minute" yaml:"max_per_minute" toml:"max_per_minute"`
	SMTP            SMTPConfig `mapstructure:"smtp" json:"smtp" yaml:"smtp" toml:"smtp"`
}

// SMTPConfig configures the email notifier. An empty host selects the log notifier.
type SMTPConfig struct {
	Host     string `mapstructure:"host" json:"host" yaml:"host" toml:"host"`
	Port     int    `mapstructure:"port" json:"port" yaml:"port" toml:"port"`
	Username string `mapstructure:"username" json:"username" yaml:"username" toml:"username"`
	Password string `mapstructure:"password" json:"-" yaml:"-" toml:"-"`
	From     string `mapstructure:"from" json:"from" yaml:"from" toml:"from"`
}

// LeaseConfig configures the tick lease shared by replicas of one worker id
type LeaseConfig struct {
	Backend       string `mapstructure:"backend" json:"backend" yaml:"backend" toml:"backend"` // none, local, redis
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"-" yaml:"-" toml:"-"`
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds" json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
}

// ServerConfig configures the ops HTTP server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr" toml:"addr"`
}

// Lease backends
const (
	LeaseBackendNone  = "none"
	LeaseBackendLocal = "local"
	LeaseBackendRedis = "redis"
)

// Limits for the ticker interval. Cron has minute resolution, so ticking
// less often than once a minute would skip runs.
const (
	MinTickerIntervalSeconds = 1
	MaxTickerIntervalSeconds = 60
)

// File system constants
const (
	DefaultDirPermissions = 0755
)

// TickerInterval returns the configured interval as a duration
func (p PulseConfig) TickerInterval() time.Duration {
	return time.Duration(p.TickerIntervalSeconds) * time.Second
}

// LeaseTTL returns the configured lease TTL as a duration
func (l LeaseConfig) LeaseTTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}
