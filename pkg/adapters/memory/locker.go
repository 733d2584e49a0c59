package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/asyncworker/pkg/ports"
)

const lockPollInterval = 10 * time.Millisecond

type lease struct {
	token   uint64
	expires time.Time
}

// Locker implements ports.DistributedLocker within a single process.
// Leases expire after their ttl even if never released.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
}

// NewLocker creates an in-process locker.
func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lease)}
}

// Lock polls until the key is free or the context is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if token, ok := l.tryLock(key, ttl); ok {
		return l.unlocker(key, token), nil
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if token, ok := l.tryLock(key, ttl); ok {
				return l.unlocker(key, token), nil
			}
		}
	}
}

func (l *Locker) tryLock(key string, ttl time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return 0, false
	}
	l.next++
	l.leases[key] = lease{token: l.next, expires: now.Add(ttl)}
	return l.next, true
}

// unlocker releases the lease only while it is still ours.
func (l *Locker) unlocker(key string, token uint64) ports.UnlockFunc {
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}
}
