package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
)

const maxPromptLen = 8000

// Dispatcher validates generation requests and enqueues them as jobs.
type Dispatcher struct {
	store  domain.JobStore
	logger infra.Logger
	now    func() time.Time
	newID  func() string
}

func NewDispatcher(store domain.JobStore, logger infra.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Submit enqueues a new job in QUEUED and returns its snapshot. Validation
// failures wrap domain.ErrInvalidRequest so handlers can map them to 400s.
func (d *Dispatcher) Submit(ctx context.Context, tenantID string, outputType domain.OutputType, req domain.GenerationRequest) (*domain.Job, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrInvalidRequest)
	}
	if !outputType.Valid() {
		return nil, fmt.Errorf("%w: unknown output type %q", domain.ErrInvalidRequest, outputType)
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidRequest)
	}
	if len(req.Prompt) > maxPromptLen {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidRequest, maxPromptLen)
	}

	job := &domain.Job{
		ID:         d.newID(),
		TenantID:   tenantID,
		OutputType: outputType,
		Request:    req,
		State:      domain.StateQueued,
	}
	if err := d.store.Create(ctx, job); err != nil {
		return nil, err
	}

	created, err := d.store.Get(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	d.logger.Info().
		Str("job_id", created.ID).
		Str("tenant_id", created.TenantID).
		Str("output_type", string(created.OutputType)).
		Msg("dispatcher: job queued")
	return created, nil
}

// Cancel flags a job for cancellation. The pipeline folds the flag into a
// FAILED/Cancelled outcome the next time the job is picked up.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	if err := d.store.RequestCancel(ctx, id); err != nil {
		return err
	}
	d.logger.Info().Str("job_id", id).Msg("dispatcher: cancellation requested")
	return nil
}
