package am

import "github.com/teranos/etlpulse/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pulse.WorkerID == "" {
		return errors.New("pulse.worker_id cannot be empty")
	}

	if c.Pulse.TickerIntervalSeconds < MinTickerIntervalSeconds || c.Pulse.TickerIntervalSeconds > MaxTickerIntervalSeconds {
		return errors.Newf("pulse.ticker_interval_seconds must be between %d and %d, got %d",
			MinTickerIntervalSeconds, MaxTickerIntervalSeconds, c.Pulse.TickerIntervalSeconds)
	}

	if c.Pulse.Workers < 1 {
		return errors.Newf("pulse.workers must be >= 1, got %d", c.Pulse.Workers)
	}

	// 0 = unbounded
	if c.Pulse.JobLogMaxLines < 0 {
		return errors.Newf("pulse.job_log_max_lines must be >= 0, got %d", c.Pulse.JobLogMaxLines)
	}

	if c.Notify.MaxPerMinute < 0 {
		return errors.Newf("notify.max_per_minute must be >= 0, got %d", c.Notify.MaxPerMinute)
	}
	if c.Notify.SMTP.Host != "" && c.Notify.SMTP.From == "" {
		return errors.New("notify.smtp.from cannot be empty when notify.smtp.host is set")
	}

	switch c.Lease.Backend {
	case "", LeaseBackendNone, LeaseBackendLocal:
	case LeaseBackendRedis:
		if c.Lease.RedisAddr == "" {
			return errors.New("lease.redis_addr cannot be empty when lease.backend is redis")
		}
	default:
		return errors.Newf("lease.backend must be one of none, local, redis, got %q", c.Lease.Backend)
	}
	if c.Lease.Backend != "" && c.Lease.Backend != LeaseBackendNone && c.Lease.TTLSeconds <= c.Pulse.TickerIntervalSeconds {
		return errors.Newf("lease.ttl_seconds (%d) must exceed pulse.ticker_interval_seconds (%d)",
			c.Lease.TTLSeconds, c.Pulse.TickerIntervalSeconds)
	}

	return nil
}
