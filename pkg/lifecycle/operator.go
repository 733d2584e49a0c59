package lifecycle

import (
	"context"
	"fmt"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
)

// maxOperatorAttempts bounds compare-and-swap retries of operator writes.
const maxOperatorAttempts = 5

// Operator holds the manual actions on runner records. These are the only
// writes not made by the controller: setting RunShutdown and recovering a
// runner stuck in the timeout state.
type Operator struct {
	store ports.RunnerStore
}

// NewOperator creates an Operator on store.
func NewOperator(store ports.RunnerStore) *Operator {
	return &Operator{store: store}
}

// List returns all runner records.
func (o *Operator) List(ctx context.Context) ([]*domain.Runner, error) {
	return o.store.List(ctx)
}

// Inspect returns the record of an existing runner.
func (o *Operator) Inspect(ctx context.Context, id string) (*domain.Runner, error) {
	if err := domain.ValidateRunnerID(id); err != nil {
		return nil, err
	}
	r, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Revision == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunnerNotFound, id)
	}
	return r, nil
}

// RequestShutdown asks the runner to stop before its next iteration (or next start).
// The record is created if it does not exist yet.
func (o *Operator) RequestShutdown(ctx context.Context, id string) (*domain.Runner, error) {
	return o.mutate(ctx, id, func(r *domain.Runner) error {
		r.RunShutdown = true
		return nil
	})
}

// Reset forces the runner back to idle. This is the manual recovery from the
// timeout state when autorecover is disabled.
func (o *Operator) Reset(ctx context.Context, id string) (*domain.Runner, error) {
	return o.mutate(ctx, id, func(r *domain.Runner) error {
		if r.Revision == 0 {
			return fmt.Errorf("%w: %s", domain.ErrRunnerNotFound, id)
		}
		r.Reset()
		return nil
	})
}

// mutate applies fn to a fresh copy of the record and writes it back,
// retrying on concurrent writes when the store supports compare-and-swap.
func (o *Operator) mutate(ctx context.Context, id string, fn func(*domain.Runner) error) (*domain.Runner, error) {
	if err := domain.ValidateRunnerID(id); err != nil {
		return nil, err
	}
	cas, atomic := o.store.(ports.AtomicRunnerStore)

	for attempt := 0; attempt < maxOperatorAttempts; attempt++ {
		r, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(r); err != nil {
			return nil, err
		}

		if !atomic {
			if err := o.store.Update(ctx, r); err != nil {
				return nil, err
			}
			return r, nil
		}

		ok, err := cas.CompareAndSwap(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
	return nil, fmt.Errorf("runner %s changed concurrently %d times, giving up", id, maxOperatorAttempts)
}
