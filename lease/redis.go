package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/etlpulse/errors"
)

// Renews the lease when the caller already holds it, otherwise takes it
// only if nobody does.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current == holder then
  redis.call('PEXPIRE', key, ttl)
  return 1
end
if current then
  return 0
end
redis.call('SET', key, holder, 'PX', ttl)
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed locker
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Acquire implements Locker
func (r *Redis) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{key}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire lease %s", key)
	}
	return res == 1, nil
}

// Release implements Locker
func (r *Redis) Release(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, holder).Err(); err != nil && err != redis.Nil {
		return errors.Wrapf(err, "failed to release lease %s", key)
	}
	return nil
}
