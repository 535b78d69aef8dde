package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// leaseSlack pads the claim lease past the stage timeout so a worker that is
// still finishing its invocation is not raced by the next dispatch tick.
const leaseSlack = 5 * time.Second

// Orchestrator drives a job's state machine: it claims the job, invokes the
// stage worker under the stage timeout, applies the retry/backoff policy, and
// persists every transition through the store's conditional write. It is safe
// to run many orchestrator workers, in one process or several, against the
// same store: losing a version race just discards the local attempt.
type Orchestrator struct {
	store   domain.JobStore
	stages  Registry
	policy  Policy
	limiter *Limiter
	logger  infra.Logger
	now     func() time.Time
}

// NewOrchestrator wires an orchestrator. A nil limiter disables concurrency
// bounding (tests only; production always passes one).
func NewOrchestrator(store domain.JobStore, stages Registry, policy Policy, limiter *Limiter, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		stages:  stages,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// Step advances the job by at most one stage attempt and returns the job
// snapshot after the step. Stepping a terminal job is a no-op that returns
// the current snapshot unchanged.
func (o *Orchestrator) Step(ctx context.Context, id string) (*domain.Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, nil
	}

	if job.CancelRequested {
		return o.fail(ctx, job, domain.ErrKindCancelled, fmt.Sprintf("cancelled before %s", job.State))
	}

	// Admission precedes the claim so a tenant at its cap keeps queued jobs
	// in QUEUED instead of burning a transition.
	var token *Token
	if o.limiter != nil {
		token, err = o.limiter.Acquire(job.TenantID)
		if errors.Is(err, domain.ErrBusy) {
			return job, nil
		}
		if err != nil {
			return nil, err
		}
		defer o.limiter.Release(token)
	}

	job, err = o.claim(ctx, job)
	if errors.Is(err, domain.ErrVersionConflict) {
		// Another orchestrator advanced or cancelled the job first.
		return o.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	worker, ok := o.stages[job.State]
	if !ok {
		return o.fail(ctx, job, domain.ErrKindStagePermanent, fmt.Sprintf("no worker registered for %s", job.State))
	}
	pol := o.policy.For(job.State)

	stageCtx, cancel := context.WithTimeout(ctx, pol.Timeout)
	output, runErr := worker.Run(stageCtx, StageRequest{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		OutputType: job.OutputType,
		Request:    job.Request,
		Prior:      job.StageOutputs,
	})
	cancel()

	if runErr == nil {
		return o.advance(ctx, job, output)
	}

	// A parent-context cancellation is a shutdown, not a stage verdict; leave
	// the job untouched so the next tick retries without burning an attempt.
	if ctx.Err() != nil && !errors.Is(runErr, context.DeadlineExceeded) {
		return job, ctx.Err()
	}

	return o.handleFailure(ctx, job, pol, runErr)
}

// claim CASes the job into its stage state (QUEUED enters PROCESSING_INTENT)
// and pushes RunNotBefore past the stage timeout as a lease, so concurrent
// pool workers lose the race cheaply instead of duplicating the AI call.
func (o *Orchestrator) claim(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	target := job.State
	if job.State == domain.StateQueued {
		next, ok := job.State.Next()
		if !ok {
			return nil, fmt.Errorf("no stage follows %s", job.State)
		}
		target = next
	}
	lease := o.now().Add(o.policy.For(target).Timeout + leaseSlack)

	claimed, err := o.store.CompareAndSwap(ctx, job.ID, job.Version, func(j *domain.Job) error {
		if j.State == domain.StateQueued {
			j.State = target
			if j.StageAttempts == nil {
				j.StageAttempts = make(map[domain.State]int)
			}
			j.StageAttempts[target] = 0
		}
		j.RunNotBefore = lease
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed.State != job.State {
		o.logger.Debug().
			Str("job_id", claimed.ID).
			Str("tenant_id", claimed.TenantID).
			Str("stage", string(claimed.State)).
			Msg("orchestrator: job entered stage")
	}
	return claimed, nil
}

// advance persists a successful stage result and moves the job forward.
func (o *Orchestrator) advance(ctx context.Context, job *domain.Job, output json.RawMessage) (*domain.Job, error) {
	next, ok := job.State.Next()
	if !ok {
		return nil, fmt.Errorf("no state follows %s", job.State)
	}

	var resultRef string
	if next == domain.StateCompleted {
		resultRef = extractResultRef(output)
		if resultRef == "" {
			return o.fail(ctx, job, domain.ErrKindStagePermanent, "render produced no artifact reference")
		}
	}

	stage := job.State
	updated, err := o.store.CompareAndSwap(ctx, job.ID, job.Version, func(j *domain.Job) error {
		if j.StageOutputs == nil {
			j.StageOutputs = make(domain.StageOutputs)
		}
		j.StageOutputs[stage] = output
		j.State = next
		j.LastError = ""
		if !next.Terminal() {
			if j.StageAttempts == nil {
				j.StageAttempts = make(map[domain.State]int)
			}
			j.StageAttempts[next] = 0
		}
		if next == domain.StateCompleted {
			j.ResultRef = resultRef
		}
		j.RunNotBefore = o.now()
		return nil
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		return o.store.Get(ctx, job.ID)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("job_id", updated.ID).
		Str("tenant_id", updated.TenantID).
		Str("stage", string(stage)).
		Str("state", string(updated.State)).
		Msg("orchestrator: stage succeeded")
	return updated, nil
}

// handleFailure applies the retry policy to a failed stage invocation.
func (o *Orchestrator) handleFailure(ctx context.Context, job *domain.Job, pol StagePolicy, runErr error) (*domain.Job, error) {
	stage := job.State
	if Classify(runErr) == FailurePermanent {
		o.logger.Warn().
			Err(runErr).
			Str("job_id", job.ID).
			Str("stage", string(stage)).
			Msg("orchestrator: permanent stage failure")
		return o.fail(ctx, job, domain.ErrKindStagePermanent, runErr.Error())
	}

	attempts := job.Attempts(stage) + 1
	if attempts >= pol.MaxAttempts {
		o.logger.Warn().
			Err(runErr).
			Str("job_id", job.ID).
			Str("stage", string(stage)).
			Int("attempt", attempts).
			Msg("orchestrator: retry ceiling exhausted")
		return o.fail(ctx, job, domain.ErrKindStageExhausted,
			fmt.Sprintf("%s failed after %d attempts: %v", stage, attempts, runErr))
	}

	delay := pol.Backoff.Delay(attempts)
	notBefore := o.now().Add(delay)
	lastErr := runErr.Error()
	updated, err := o.store.CompareAndSwap(ctx, job.ID, job.Version, func(j *domain.Job) error {
		if j.StageAttempts == nil {
			j.StageAttempts = make(map[domain.State]int)
		}
		j.StageAttempts[stage] = attempts
		j.LastError = lastErr
		j.RunNotBefore = notBefore
		return nil
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		return o.store.Get(ctx, job.ID)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Err(runErr).
		Str("job_id", updated.ID).
		Str("stage", string(stage)).
		Int("attempt", attempts).
		Dur("backoff", delay).
		Msg("orchestrator: transient stage failure, will retry")
	return updated, nil
}

// fail moves the job to FAILED with the given error kind. Raced writes mean
// someone else already decided the job's fate; their snapshot wins.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, kind domain.ErrorKind, message string) (*domain.Job, error) {
	updated, err := o.store.CompareAndSwap(ctx, job.ID, job.Version, func(j *domain.Job) error {
		j.State = domain.StateFailed
		j.Error = &domain.JobError{Kind: kind, Message: message}
		j.ResultRef = ""
		j.RunNotBefore = o.now()
		return nil
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		return o.store.Get(ctx, job.ID)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Warn().
		Str("job_id", updated.ID).
		Str("tenant_id", updated.TenantID).
		Str("kind", string(kind)).
		Msg("orchestrator: job failed")
	return updated, nil
}

func extractResultRef(output json.RawMessage) string {
	var rendered struct {
		ResultRef string `json:"result_ref"`
	}
	if err := json.Unmarshal(output, &rendered); err != nil {
		return ""
	}
	return rendered.ResultRef
}
