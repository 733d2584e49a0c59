package ports

import (
	"context"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// JobExecutor runs at most one job per call.
// It owns job-level failure handling; the caller only learns whether a job ran.
type JobExecutor interface {
	ExecuteOne(ctx context.Context) bool
}

// Cleaner flushes or resets per-job ancillary resources.
type Cleaner interface {
	CleanUp()
}

// Notifier emits operator-facing notices.
type Notifier interface {
	Notify(ctx context.Context, notice domain.Notice)
}
