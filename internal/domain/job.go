package domain

import (
	"encoding/json"
	"time"
)

// OutputType enumerates the artifact formats a generation job can produce.
type OutputType string

const (
	OutputPresentation OutputType = "presentation"
	OutputDocument     OutputType = "document"
	OutputSpreadsheet  OutputType = "spreadsheet"
)

// Valid reports whether t is a supported output type.
func (t OutputType) Valid() bool {
	switch t {
	case OutputPresentation, OutputDocument, OutputSpreadsheet:
		return true
	}
	return false
}

// State enumerates job lifecycle states. The vocabulary is part of the wire
// contract with the polling client and is case-sensitive.
type State string

const (
	StateQueued            State = "QUEUED"
	StateProcessingIntent  State = "PROCESSING_INTENT"
	StateProcessingLayout  State = "PROCESSING_LAYOUT"
	StateProcessingContent State = "PROCESSING_CONTENT"
	StateCritiquing        State = "CRITIQUING"
	StateRendering         State = "RENDERING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

// StageOrder is the fixed forward-only progression of a successful job.
// FAILED is reachable from every non-terminal state and is not part of the
// order.
var StageOrder = []State{
	StateQueued,
	StateProcessingIntent,
	StateProcessingLayout,
	StateProcessingContent,
	StateCritiquing,
	StateRendering,
	StateCompleted,
}

// Terminal reports whether no further transitions are permitted from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Next returns the state that follows s in the fixed stage order. The second
// return value is false for terminal and unknown states.
func (s State) Next() (State, bool) {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Rank returns the position of s in the stage order, or -1 for FAILED and
// unknown states. Used to assert monotonic progress.
func (s State) Rank() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ErrorKind classifies why a job reached FAILED.
type ErrorKind string

const (
	ErrKindStageExhausted ErrorKind = "StageExhausted"
	ErrKindStagePermanent ErrorKind = "StagePermanent"
	ErrKindCancelled      ErrorKind = "Cancelled"
)

// JobError is the user-visible failure recorded on a FAILED job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RequestMeta carries the structured metadata captured alongside the prompt.
type RequestMeta struct {
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Budget   string `json:"budget,omitempty"`
	Timeline string `json:"timeline,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// GenerationRequest is the input snapshot taken at submission time. Later
// edits to the source project never reach a job already queued.
type GenerationRequest struct {
	Prompt string      `json:"prompt"`
	Meta   RequestMeta `json:"meta"`
}

// StageOutputs accumulates each completed stage's JSON output, keyed by the
// state the stage ran in.
type StageOutputs map[State]json.RawMessage

// Job encapsulates the lifecycle of one document generation.
type Job struct {
	ID              string
	TenantID        string
	OutputType      OutputType
	Request         GenerationRequest
	State           State
	StageAttempts   map[State]int
	StageOutputs    StageOutputs
	ResultRef       string
	Error           *JobError
	LastError       string
	CancelRequested bool
	RunNotBefore    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// Attempts returns the retry counter recorded for the given stage state.
func (j *Job) Attempts(s State) int {
	if j.StageAttempts == nil {
		return 0
	}
	return j.StageAttempts[s]
}

// Clone returns a deep copy so stores can hand out snapshots that callers
// cannot use to mutate shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.StageAttempts != nil {
		out.StageAttempts = make(map[State]int, len(j.StageAttempts))
		for k, v := range j.StageAttempts {
			out.StageAttempts[k] = v
		}
	}
	if j.StageOutputs != nil {
		out.StageOutputs = make(StageOutputs, len(j.StageOutputs))
		for k, v := range j.StageOutputs {
			out.StageOutputs[k] = append(json.RawMessage(nil), v...)
		}
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}
