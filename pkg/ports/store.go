package ports

import (
	"context"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// RunnerStore persists one runner record per id.
// This is the shared state through which a fleet of instances coordinates.
type RunnerStore interface {
	// Get retrieves the record for a runner id.
	// An unknown id yields a fresh idle record with Revision 0 (records are created lazily).
	Get(ctx context.Context, id string) (*domain.Runner, error)

	// Update upserts the full record. The store assigns the next Revision
	// and writes it back into runner.
	Update(ctx context.Context, runner *domain.Runner) error

	// List returns every record known to the store.
	List(ctx context.Context) ([]*domain.Runner, error)
}

// AtomicRunnerStore is implemented by stores that can close the race between
// two instances claiming the same runner id.
type AtomicRunnerStore interface {
	RunnerStore

	// CompareAndSwap writes runner only if the stored Revision still equals runner.Revision
	// (0 meaning "not stored yet"). On success the new Revision is written back into runner.
	CompareAndSwap(ctx context.Context, runner *domain.Runner) (bool, error)
}
