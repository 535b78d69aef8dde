package domain

import "context"

// JobStore is durable keyed storage for job records. Jobs are mutated through
// CompareAndSwap only, which gives the orchestrator optimistic concurrency
// instead of locks: two workers racing on the same job produce exactly one
// winning write, and the loser re-reads.
type JobStore interface {
	// Create persists a new job. Fails with ErrConflict on an id collision.
	Create(ctx context.Context, job *Job) error

	// Get returns a snapshot of the job. Fails with ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Job, error)

	// CompareAndSwap applies mutate to the stored job and persists the result
	// only if the stored version still equals expectedVersion; it fails with
	// ErrVersionConflict otherwise. On success the version is incremented and
	// the updated snapshot returned.
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate func(*Job) error) (*Job, error)

	// ListRunnable returns non-terminal jobs whose RunNotBefore has passed,
	// oldest first, up to limit.
	ListRunnable(ctx context.Context, limit int) ([]*Job, error)

	// RequestCancel marks the job for cancellation. The orchestrator observes
	// the flag before starting the next stage; a stage already in flight is
	// allowed to finish.
	RequestCancel(ctx context.Context, id string) error
}
