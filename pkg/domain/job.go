package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// DefaultQueue is used when a job does not name a queue.
const DefaultQueue = "default"

// Job is a unit of work placed on a queue.
type Job struct {
	ID      string         `json:"id"`
	Queue   string         `json:"queue"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// ReadyAt delays the job until the given time. Zero means ready immediately.
	ReadyAt time.Time `json:"ready_at,omitempty"`

	// ExpiresAt discards the job if it has not run by then. Zero means never.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
}

// NewJob creates a job with a fresh id on the default queue.
func NewJob(jobType string, payload map[string]any) *Job {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Job{
		ID:      uuid.NewString(),
		Queue:   DefaultQueue,
		Type:    jobType,
		Payload: payload,
	}
}

// IsDelayed reports whether the job must wait in the delayed set at now.
func (j *Job) IsDelayed(now time.Time) bool {
	return !j.ReadyAt.IsZero() && j.ReadyAt.After(now)
}

// IsExpired reports whether the job's expiry has passed at now.
func (j *Job) IsExpired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// CanRetry reports whether another attempt is allowed after a failure.
func (j *Job) CanRetry() bool {
	return j.MaxAttempts <= 0 || j.Attempts < j.MaxAttempts
}

// Decode maps the payload onto target (a pointer to a struct),
// honouring `mapstructure` tags.
func (j *Job) Decode(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create payload decoder: %w", err)
	}
	if err := decoder.Decode(j.Payload); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}
