package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"server/internal/adapter/repo"
	"server/internal/domain"
)

func TestDispatcherSubmit(t *testing.T) {
	ctx := context.Background()
	store := repo.NewJobRepositoryMem()
	d := NewDispatcher(store, discardLogger())

	job, err := d.Submit(ctx, "acme", domain.OutputPresentation, domain.GenerationRequest{
		Prompt: "  pitch deck for a coffee subscription  ",
		Meta:   domain.RequestMeta{Tone: "upbeat"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a job id")
	}
	if job.State != domain.StateQueued {
		t.Fatalf("State = %s, want QUEUED", job.State)
	}
	if job.Version != 1 {
		t.Fatalf("Version = %d, want 1", job.Version)
	}
	if job.Request.Prompt != "pitch deck for a coffee subscription" {
		t.Fatalf("Prompt = %q, want trimmed", job.Request.Prompt)
	}
	if job.Request.Meta.Tone != "upbeat" {
		t.Fatalf("Meta.Tone = %q", job.Request.Meta.Tone)
	}
}

func TestDispatcherValidation(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(repo.NewJobRepositoryMem(), discardLogger())

	tests := []struct {
		name   string
		tenant string
		output domain.OutputType
		prompt string
	}{
		{"empty tenant", "", domain.OutputDocument, "a report"},
		{"unknown output type", "acme", "poster", "a report"},
		{"empty prompt", "acme", domain.OutputDocument, "   "},
		{"oversized prompt", "acme", domain.OutputDocument, strings.Repeat("a", 8001)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Submit(ctx, tc.tenant, tc.output, domain.GenerationRequest{Prompt: tc.prompt})
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("Submit() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestDispatcherSnapshotImmutable(t *testing.T) {
	ctx := context.Background()
	store := repo.NewJobRepositoryMem()
	d := NewDispatcher(store, discardLogger())

	job, err := d.Submit(ctx, "acme", domain.OutputDocument, domain.GenerationRequest{
		Prompt: "a report",
		Meta:   domain.RequestMeta{Brand: "original"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Mutating the returned snapshot must not affect the stored job.
	job.Request.Meta.Brand = "changed"
	stored, _ := store.Get(ctx, job.ID)
	if stored.Request.Meta.Brand != "original" {
		t.Fatal("snapshot mutation reached the store")
	}
}

func TestDispatcherCancel(t *testing.T) {
	ctx := context.Background()
	store := repo.NewJobRepositoryMem()
	d := NewDispatcher(store, discardLogger())

	if err := d.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Cancel(missing) error = %v, want ErrNotFound", err)
	}

	job, _ := d.Submit(ctx, "acme", domain.OutputDocument, domain.GenerationRequest{Prompt: "a report"})
	if err := d.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if !stored.CancelRequested {
		t.Fatal("expected CancelRequested")
	}
}

func TestStatusQueryIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repo.NewJobRepositoryMem()
	d := NewDispatcher(store, discardLogger())
	q := NewStatusQuery(store)

	job, _ := d.Submit(ctx, "acme", domain.OutputDocument, domain.GenerationRequest{Prompt: "a report"})

	first, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, _ := q.Get(ctx, job.ID)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}
	if first.Status != domain.StateQueued || first.ResultRef != "" || first.Error != nil {
		t.Fatalf("snapshot = %+v", first)
	}

	stored, _ := store.Get(ctx, job.ID)
	if stored.Version != 1 {
		t.Fatalf("Version = %d, status reads must not write", stored.Version)
	}

	if _, err := q.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStatusQueryFailedJob(t *testing.T) {
	ctx := context.Background()
	store := repo.NewJobRepositoryMem()
	d := NewDispatcher(store, discardLogger())
	q := NewStatusQuery(store)

	job, _ := d.Submit(ctx, "acme", domain.OutputDocument, domain.GenerationRequest{Prompt: "a report"})
	if _, err := store.CompareAndSwap(ctx, job.ID, 1, func(j *domain.Job) error {
		j.State = domain.StateFailed
		j.Error = &domain.JobError{Kind: domain.ErrKindStageExhausted, Message: "provider down"}
		return nil
	}); err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}

	snap, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != domain.StateFailed {
		t.Fatalf("Status = %s, want FAILED", snap.Status)
	}
	if snap.Error == nil || snap.Error.Kind != domain.ErrKindStageExhausted {
		t.Fatalf("Error = %+v", snap.Error)
	}
}
