// Package lease provides time-bounded exclusive ownership of a key.
//
// The scheduler holds a lease on its tick key so that standby processes
// sharing a worker id do not fire the same schedules. A holder renews its
// lease by acquiring it again before the TTL runs out.
package lease

import (
	"context"
	"sync"
	"time"
)

// Locker grants a key to one holder at a time
type Locker interface {
	// Acquire takes key for holder, or renews it when holder already owns
	// it. Returns false when another holder owns an unexpired lease.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release drops key if holder owns it
	Release(ctx context.Context, key, holder string) error
}

type entry struct {
	holder  string
	expires time.Time
}

// Local is an in-process Locker
type Local struct {
	mu     sync.Mutex
	leases map[string]entry
	now    func() time.Time
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{leases: make(map[string]entry), now: time.Now}
}

// Acquire implements Locker
func (l *Local) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && cur.holder != holder && now.Before(cur.expires) {
		return false, nil
	}
	l.leases[key] = entry{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

// Release implements Locker
func (l *Local) Release(_ context.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.holder == holder {
		delete(l.leases, key)
	}
	return nil
}
