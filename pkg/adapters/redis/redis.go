// Package redis provides the Redis backed runner store, job queue and distributed locker.
//
// All keys share one prefix (default "asyncworker:") so that several deployments can
// use the same database:
//
//	<prefix>runner:<id>      runner record (JSON)
//	<prefix>runners          set of runner ids
//	<prefix>job:<id>         job body (JSON)
//	<prefix>queue:<name>     ready list (LPUSH / RPOP)
//	<prefix>delayed:<name>   delayed set, scored by ready time in unix ms
//	<prefix>expiring:<name>  expiry set, scored by expiry time in unix ms
//	<prefix>queues           set of queue names
//	<prefix>lock:<key>       distributed lock
package redis

import (
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "asyncworker:"

type options struct {
	prefix string
	now    func() time.Time
}

// Option configures the Store and the Queue.
type Option func(*options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithClock replaces the clock used for job delay and expiry scores.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a Redis client for the given address.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}
