package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"server/internal/domain"
)

func newJob(id, tenant string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:         id,
		TenantID:   tenant,
		OutputType: domain.OutputDocument,
		Request:    domain.GenerationRequest{Prompt: "quarterly report"},
		State:      domain.StateQueued,
		CreatedAt:  created,
	}
}

func TestMemCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewJobRepositoryMem()

	job := newJob("j1", "acme", time.Time{})
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate Create() error = %v, want ErrConflict", err)
	}

	got, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("Version = %d, want 1", got.Version)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be stamped")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewJobRepositoryMem()
	if err := store.Create(ctx, newJob("j1", "acme", time.Time{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, _ := store.Get(ctx, "j1")
	first.State = domain.StateFailed
	first.Request.Prompt = "mutated"

	second, _ := store.Get(ctx, "j1")
	if second.State != domain.StateQueued {
		t.Fatalf("State = %s, caller mutation leaked into store", second.State)
	}
	if second.Request.Prompt != "quarterly report" {
		t.Fatal("prompt mutation leaked into store")
	}
}

func TestMemCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewJobRepositoryMem()
	if err := store.Create(ctx, newJob("j1", "acme", time.Time{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := store.CompareAndSwap(ctx, "j1", 1, func(j *domain.Job) error {
		j.State = domain.StateProcessingIntent
		return nil
	})
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("Version = %d, want 2", updated.Version)
	}
	if updated.State != domain.StateProcessingIntent {
		t.Fatalf("State = %s, want PROCESSING_INTENT", updated.State)
	}

	// Stale version loses.
	if _, err := store.CompareAndSwap(ctx, "j1", 1, func(j *domain.Job) error {
		j.State = domain.StateFailed
		return nil
	}); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale CompareAndSwap() error = %v, want ErrVersionConflict", err)
	}
	got, _ := store.Get(ctx, "j1")
	if got.State != domain.StateProcessingIntent {
		t.Fatalf("State = %s, stale write must not apply", got.State)
	}

	// A mutator error leaves the record untouched.
	wantErr := errors.New("boom")
	if _, err := store.CompareAndSwap(ctx, "j1", 2, func(j *domain.Job) error {
		j.State = domain.StateFailed
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("CompareAndSwap() error = %v, want mutator error", err)
	}
	got, _ = store.Get(ctx, "j1")
	if got.State != domain.StateProcessingIntent || got.Version != 2 {
		t.Fatal("failed mutation must not change the stored record")
	}
}

func TestMemListRunnable(t *testing.T) {
	ctx := context.Background()
	store := NewJobRepositoryMem()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	older := newJob("b-older", "acme", base.Add(-2*time.Hour))
	newer := newJob("a-newer", "acme", base.Add(-time.Hour))
	backedOff := newJob("c-backoff", "acme", base.Add(-3*time.Hour))
	backedOff.RunNotBefore = base.Add(time.Minute)
	done := newJob("d-done", "acme", base.Add(-4*time.Hour))
	done.State = domain.StateCompleted

	for _, j := range []*domain.Job{newer, older, backedOff, done} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("Create(%s) error = %v", j.ID, err)
		}
	}

	jobs, err := store.ListRunnable(ctx, 10)
	if err != nil {
		t.Fatalf("ListRunnable() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2 (terminal and backed-off excluded)", len(jobs))
	}
	if jobs[0].ID != "b-older" || jobs[1].ID != "a-newer" {
		t.Fatalf("order = [%s %s], want oldest first", jobs[0].ID, jobs[1].ID)
	}

	// Once the backoff deadline passes the job becomes eligible again.
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	jobs, _ = store.ListRunnable(ctx, 10)
	if len(jobs) != 3 {
		t.Fatalf("len = %d after backoff elapsed, want 3", len(jobs))
	}

	jobs, _ = store.ListRunnable(ctx, 1)
	if len(jobs) != 1 || jobs[0].ID != "c-backoff" {
		t.Fatalf("limit=1 returned %v, want just the oldest", jobs[0].ID)
	}
}

func TestMemRequestCancel(t *testing.T) {
	ctx := context.Background()
	store := NewJobRepositoryMem()
	if err := store.Create(ctx, newJob("j1", "acme", time.Time{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.RequestCancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RequestCancel(missing) error = %v, want ErrNotFound", err)
	}

	if err := store.RequestCancel(ctx, "j1"); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}
	got, _ := store.Get(ctx, "j1")
	if !got.CancelRequested {
		t.Fatal("expected CancelRequested to be set")
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, cancel must bump the version so in-flight writes lose", got.Version)
	}

	// Idempotent: a second request does not bump again.
	if err := store.RequestCancel(ctx, "j1"); err != nil {
		t.Fatalf("second RequestCancel() error = %v", err)
	}
	got, _ = store.Get(ctx, "j1")
	if got.Version != 2 {
		t.Fatalf("Version = %d after repeat cancel, want 2", got.Version)
	}
}
