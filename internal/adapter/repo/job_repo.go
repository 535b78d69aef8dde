package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL. Optimistic
// concurrency rides on the version column: the swap UPDATE is conditioned on
// the version the caller read, so a lost race affects zero rows.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job store backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	request, attempts, outputs, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	errKind, errMsg := marshalJobError(job.Error)
	_, err = r.sql.Exec(ctx, sqlinline.QCreateJob,
		job.ID,
		job.TenantID,
		job.OutputType,
		request,
		job.State,
		attempts,
		outputs,
		job.ResultRef,
		errKind,
		errMsg,
		job.LastError,
		job.CancelRequested,
		job.RunNotBefore,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QGetJob, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// CompareAndSwap reads the current row, applies mutate locally, and persists
// the result with an UPDATE conditioned on the version the caller expected.
func (r *JobRepositoryPG) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate func(*domain.Job) error) (*domain.Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	work := job.Clone()
	if err := mutate(work); err != nil {
		return nil, err
	}
	work.ID = job.ID

	request, attempts, outputs, err := marshalJobJSON(work)
	if err != nil {
		return nil, err
	}
	errKind, errMsg := marshalJobError(work.Error)
	row := r.sql.QueryRow(ctx, sqlinline.QSwapJob,
		work.ID,
		expectedVersion,
		work.OutputType,
		request,
		work.State,
		attempts,
		outputs,
		work.ResultRef,
		errKind,
		errMsg,
		work.LastError,
		work.CancelRequested,
		work.RunNotBefore,
	)
	if err := row.Scan(&work.CreatedAt, &work.UpdatedAt, &work.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missOrConflict(ctx, id)
		}
		return nil, fmt.Errorf("swap job: %w", err)
	}
	return work, nil
}

// ListRunnable returns non-terminal jobs eligible for a processing tick.
func (r *JobRepositoryPG) ListRunnable(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListRunnableJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequestCancel marks the job for cancellation; terminal jobs are a no-op.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, id string) error {
	row := r.sql.QueryRow(ctx, sqlinline.QCancelJob, id)
	var got string
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the job does not exist or it is already terminal or
			// cancel-requested; only the former is an error.
			return r.ensureExists(ctx, id)
		}
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) missOrConflict(ctx context.Context, id string) error {
	if err := r.ensureExists(ctx, id); err != nil {
		return err
	}
	return domain.ErrVersionConflict
}

func (r *JobRepositoryPG) ensureExists(ctx context.Context, id string) error {
	var one int
	if err := r.sql.QueryRow(ctx, sqlinline.QJobExists, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job      domain.Job
		request  []byte
		attempts []byte
		outputs  []byte
		errKind  *string
		errMsg   *string
	)
	if err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.OutputType,
		&request,
		&job.State,
		&attempts,
		&outputs,
		&job.ResultRef,
		&errKind,
		&errMsg,
		&job.LastError,
		&job.CancelRequested,
		&job.RunNotBefore,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.Version,
	); err != nil {
		return nil, err
	}
	if len(request) > 0 {
		if err := json.Unmarshal(request, &job.Request); err != nil {
			return nil, fmt.Errorf("decode job request: %w", err)
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &job.StageAttempts); err != nil {
			return nil, fmt.Errorf("decode stage attempts: %w", err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.StageOutputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs: %w", err)
		}
	}
	if errKind != nil && *errKind != "" {
		msg := ""
		if errMsg != nil {
			msg = *errMsg
		}
		job.Error = &domain.JobError{Kind: domain.ErrorKind(*errKind), Message: msg}
	}
	return &job, nil
}

func marshalJobJSON(job *domain.Job) (request, attempts, outputs []byte, err error) {
	if request, err = json.Marshal(job.Request); err != nil {
		return nil, nil, nil, fmt.Errorf("encode job request: %w", err)
	}
	attemptsMap := job.StageAttempts
	if attemptsMap == nil {
		attemptsMap = map[domain.State]int{}
	}
	if attempts, err = json.Marshal(attemptsMap); err != nil {
		return nil, nil, nil, fmt.Errorf("encode stage attempts: %w", err)
	}
	outputsMap := job.StageOutputs
	if outputsMap == nil {
		outputsMap = domain.StageOutputs{}
	}
	if outputs, err = json.Marshal(outputsMap); err != nil {
		return nil, nil, nil, fmt.Errorf("encode stage outputs: %w", err)
	}
	return request, attempts, outputs, nil
}

func marshalJobError(e *domain.JobError) (kind, msg *string) {
	if e == nil {
		return nil, nil
	}
	k := string(e.Kind)
	m := e.Message
	return &k, &m
}

func isUniqueViolation(err error) bool {
	// 23505 is unique_violation.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
