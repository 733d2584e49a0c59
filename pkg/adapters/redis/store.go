package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/asyncworker/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries of Update.
const maxTxRetries = 10

var errRevisionMismatch = errors.New("revision mismatch")

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

// Store implements ports.AtomicRunnerStore using Redis.
// Writes are optimistic transactions (WATCH/MULTI/EXEC) on the runner key.
type Store struct {
	client *backend.Client
	opts   options
}

// NewStore creates a runner store on an existing client.
func NewStore(client *backend.Client, opts ...Option) *Store {
	return &Store{
		client: client,
		opts:   newOptions(opts),
	}
}

func (s *Store) key(runnerID string) string {
	return s.opts.prefix + "runner:" + runnerID
}

func (s *Store) indexKey() string {
	return s.opts.prefix + "runners"
}

// Get loads the runner record, or a fresh idle one if none was written yet.
func (s *Store) Get(ctx context.Context, runnerID string) (*domain.Runner, error) {
	return s.load(ctx, s.client, runnerID)
}

func (s *Store) load(ctx context.Context, c getter, runnerID string) (*domain.Runner, error) {
	val, err := c.Get(ctx, s.key(runnerID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.NewRunner(runnerID), nil
		}
		return nil, fmt.Errorf("failed to get runner from redis: %w", err)
	}

	var r domain.Runner
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runner %s: %w", runnerID, err)
	}
	return &r, nil
}

// Update writes the record unconditionally, assigning the next revision.
func (s *Store) Update(ctx context.Context, r *domain.Runner) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *backend.Tx) error {
			current, err := s.load(ctx, tx, r.ID)
			if err != nil {
				return err
			}
			return s.write(ctx, tx, r, current.Revision)
		}, s.key(r.ID))

		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update runner %s: too much contention", r.ID)
}

// CompareAndSwap writes the record only if the stored revision still equals r.Revision.
func (s *Store) CompareAndSwap(ctx context.Context, r *domain.Runner) (bool, error) {
	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		current, err := s.load(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if current.Revision != r.Revision {
			return errRevisionMismatch
		}
		return s.write(ctx, tx, r, current.Revision)
	}, s.key(r.ID))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errRevisionMismatch), errors.Is(err, backend.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

// write commits r at revision+1. r is only modified once the transaction succeeded.
func (s *Store) write(ctx context.Context, tx *backend.Tx, r *domain.Runner, revision int64) error {
	next := r.Clone()
	next.Revision = revision + 1
	next.UpdatedAt = s.opts.now()

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal runner: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.key(r.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), r.ID)
		return nil
	})
	if err != nil {
		return err
	}

	r.Revision = next.Revision
	r.UpdatedAt = next.UpdatedAt
	return nil
}

// List returns every runner record, sorted by id.
func (s *Store) List(ctx context.Context) ([]*domain.Runner, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	sort.Strings(ids)

	runners := make([]*domain.Runner, 0, len(ids))
	if len(ids) == 0 {
		return runners, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*backend.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to load runners: %w", err)
	}

	for i, cmd := range cmds {
		val, err := cmd.Result()
		if errors.Is(err, backend.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load runner %s: %w", ids[i], err)
		}
		var r domain.Runner
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal runner %s: %w", ids[i], err)
		}
		runners = append(runners, &r)
	}
	return runners, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
