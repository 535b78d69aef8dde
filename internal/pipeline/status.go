package pipeline

import (
	"context"

	"server/internal/domain"
)

// Snapshot is the externally visible view of a job. It never exposes
// intermediate stage outputs or attempt counters.
type Snapshot struct {
	JobID     string           `json:"job_id"`
	Status    domain.State     `json:"status"`
	ResultRef string           `json:"result_ref,omitempty"`
	Error     *domain.JobError `json:"error,omitempty"`
}

// StatusQuery answers read-only job lookups. Queries never mutate state, so
// polling a terminal job returns the same snapshot every time.
type StatusQuery struct {
	store domain.JobStore
}

func NewStatusQuery(store domain.JobStore) *StatusQuery {
	return &StatusQuery{store: store}
}

func (q *StatusQuery) Get(ctx context.Context, id string) (Snapshot, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		JobID:     job.ID,
		Status:    job.State,
		ResultRef: job.ResultRef,
		Error:     job.Error,
	}, nil
}
