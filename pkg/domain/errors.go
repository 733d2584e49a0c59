package domain

import "errors"

// ErrRunnerNotFound is returned by operator actions that require an existing runner record.
var ErrRunnerNotFound = errors.New("runner not found")

// ErrInvalidRunnerID is returned for runner ids that cannot be used as store keys.
var ErrInvalidRunnerID = errors.New("invalid runner id")

// ErrJobNotFound is returned when a job body is missing from the queue backend.
var ErrJobNotFound = errors.New("job not found")

// ErrUnknownJobType is returned when no handler is registered for a job type.
var ErrUnknownJobType = errors.New("unknown job type")

// ErrAtomicClaimUnsupported is returned when an atomic listening claim is required
// but neither the store nor a distributed locker can provide one.
var ErrAtomicClaimUnsupported = errors.New("store does not support an atomic listening claim")
