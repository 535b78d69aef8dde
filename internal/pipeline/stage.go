package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"server/internal/domain"
)

// FailureKind classifies a stage failure for the retry policy.
type FailureKind string

const (
	// FailureTransient covers timeouts, rate limits, and provider outages;
	// retried up to the stage ceiling.
	FailureTransient FailureKind = "Transient"
	// FailurePermanent covers invalid input, content-policy rejections, and
	// malformed provider responses; never retried.
	FailurePermanent FailureKind = "Permanent"
)

// StageError is a classified stage failure. Workers return it (possibly
// wrapped) to direct the orchestrator's retry decision; any unclassified
// error is treated as transient, since provider flakiness is the expected
// failure mode and permanence must be asserted explicitly.
type StageError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StageError) Unwrap() error { return e.Err }

// Permanentf builds a permanent stage failure.
func Permanentf(format string, args ...any) *StageError {
	return &StageError{Kind: FailurePermanent, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a transient stage failure.
func Transientf(format string, args ...any) *StageError {
	return &StageError{Kind: FailureTransient, Message: fmt.Sprintf(format, args...)}
}

// WrapPermanent classifies err as permanent, keeping it in the chain.
func WrapPermanent(err error, message string) *StageError {
	return &StageError{Kind: FailurePermanent, Message: message, Err: err}
}

// Classify resolves the failure kind of a stage error. Deadline expiry is
// transient per the timeout semantics; everything unclassified defaults to
// transient.
func Classify(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	return FailureTransient
}

// StageRequest is the read-only input handed to a stage worker. Workers never
// see or mutate the Job record itself; only the orchestrator writes job state.
type StageRequest struct {
	JobID      string
	TenantID   string
	OutputType domain.OutputType
	Request    domain.GenerationRequest
	Prior      domain.StageOutputs
}

// StageWorker performs one unit of AI-assisted work for a job. Side effects
// (calling an external AI provider) are the worker's private concern.
type StageWorker interface {
	Run(ctx context.Context, req StageRequest) (json.RawMessage, error)
}

// StageWorkerFunc adapts a function to the StageWorker interface.
type StageWorkerFunc func(ctx context.Context, req StageRequest) (json.RawMessage, error)

// Run implements StageWorker.
func (f StageWorkerFunc) Run(ctx context.Context, req StageRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

// Registry maps each processing state to the worker that serves it.
type Registry map[domain.State]StageWorker
