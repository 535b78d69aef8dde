package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// JobRepositoryMem is an in-memory domain.JobStore. It backs development and
// test environments and the single-process deployment mode of cmd/api.
type JobRepositoryMem struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewJobRepositoryMem creates an empty in-memory job store.
func NewJobRepositoryMem() *JobRepositoryMem {
	return &JobRepositoryMem{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

// Create inserts a new job record.
func (r *JobRepositoryMem) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	stored := job.Clone()
	now := r.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1
	r.jobs[job.ID] = stored
	return nil
}

// Get fetches a job snapshot by its identifier.
func (r *JobRepositoryMem) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// CompareAndSwap implements the optimistic-concurrency write described by
// domain.JobStore. The mutator runs against a private copy, so a mutator
// error leaves the stored record untouched.
func (r *JobRepositoryMem) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate func(*domain.Job) error) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	work := job.Clone()
	if err := mutate(work); err != nil {
		return nil, err
	}
	work.ID = job.ID
	work.Version = expectedVersion + 1
	work.UpdatedAt = r.now()
	r.jobs[id] = work
	return work.Clone(), nil
}

// ListRunnable returns non-terminal jobs eligible for a processing tick,
// oldest first so worst-case latency stays bounded under load.
func (r *JobRepositoryMem) ListRunnable(ctx context.Context, limit int) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var eligible []*domain.Job
	for _, job := range r.jobs {
		if job.State.Terminal() {
			continue
		}
		if job.RunNotBefore.After(now) {
			continue
		}
		eligible = append(eligible, job)
	}
	sort.Slice(eligible, func(i, k int) bool {
		if eligible[i].CreatedAt.Equal(eligible[k].CreatedAt) {
			return eligible[i].ID < eligible[k].ID
		}
		return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*domain.Job, len(eligible))
	for i, job := range eligible {
		out[i] = job.Clone()
	}
	return out, nil
}

// RequestCancel marks the job for cancellation. The version bump makes an
// in-flight orchestrator write lose its race and re-read the flag.
func (r *JobRepositoryMem) RequestCancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State.Terminal() || job.CancelRequested {
		return nil
	}
	job.CancelRequested = true
	job.Version++
	job.UpdatedAt = r.now()
	return nil
}

var _ domain.JobStore = (*JobRepositoryMem)(nil)
