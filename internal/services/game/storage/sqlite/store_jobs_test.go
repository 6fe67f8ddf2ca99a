package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

func TestEnqueueJobDedupeKeyCollapses(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := testTime(t)

	job := storage.Job{
		ID:        "job-1",
		Kind:      storage.JobKindCleanup,
		DedupeKey: "cleanup:round-1:alice",
		CreatedAt: now,
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job.ID = "job-2"
	if err := store.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("duplicate enqueue should be a no-op: %v", err)
	}

	leased, err := store.LeaseJobs(ctx, "worker-a", 10, now, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased = %d, want 1", len(leased))
	}
	if leased[0].ID != "job-1" {
		t.Fatalf("leased id = %q, want job-1", leased[0].ID)
	}
}

func TestLeaseJobsHonorsLeaseAndReclaimsExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := testTime(t)

	if err := store.EnqueueJob(ctx, storage.Job{
		ID:        "job-1",
		Kind:      storage.JobKindHistory,
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := store.LeaseJobs(ctx, "worker-a", 1, now, time.Minute)
	if err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if len(first) != 1 || first[0].AttemptCount != 1 {
		t.Fatalf("first lease = %+v, want one job on attempt 1", first)
	}

	// Still leased: a second consumer gets nothing.
	second, err := store.LeaseJobs(ctx, "worker-b", 1, now.Add(30*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second lease = %d jobs, want 0", len(second))
	}

	// Lease expired: the job is reclaimed with a bumped attempt count.
	third, err := store.LeaseJobs(ctx, "worker-b", 1, now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("third lease: %v", err)
	}
	if len(third) != 1 || third[0].AttemptCount != 2 {
		t.Fatalf("third lease = %+v, want one job on attempt 2", third)
	}
	if third[0].LeaseOwner != "worker-b" {
		t.Fatalf("lease owner = %q, want worker-b", third[0].LeaseOwner)
	}
}

func TestMarkJobDoneRequiresLeaseOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := testTime(t)

	if err := store.EnqueueJob(ctx, storage.Job{
		ID:        "job-1",
		Kind:      storage.JobKindReconcile,
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.LeaseJobs(ctx, "worker-a", 1, now, time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	err := store.MarkJobDone(ctx, "job-1", "worker-b", now)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign ack err = %v, want ErrNotFound", err)
	}
	if err := store.MarkJobDone(ctx, "job-1", "worker-a", now); err != nil {
		t.Fatalf("owner ack: %v", err)
	}

	// Done jobs never lease again.
	leased, err := store.LeaseJobs(ctx, "worker-a", 1, now.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("lease after done: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("leased = %d, want 0", len(leased))
	}
}

func TestMarkJobFailedSchedulesRetryOrBuries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := testTime(t)

	if err := store.EnqueueJob(ctx, storage.Job{
		ID:        "job-1",
		Kind:      storage.JobKindCleanup,
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.LeaseJobs(ctx, "worker-a", 1, now, time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	retryAt := now.Add(10 * time.Second)
	if err := store.MarkJobFailed(ctx, "job-1", "worker-a", "session gone", false, retryAt, now); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Not due until the retry time passes.
	leased, err := store.LeaseJobs(ctx, "worker-a", 1, now.Add(5*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("early lease: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("early lease = %d jobs, want 0", len(leased))
	}

	leased, err = store.LeaseJobs(ctx, "worker-a", 1, retryAt.Add(time.Second), time.Minute)
	if err != nil {
		t.Fatalf("retry lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("retry lease = %d jobs, want 1", len(leased))
	}
	if leased[0].LastError != "session gone" {
		t.Fatalf("last error = %q, want 'session gone'", leased[0].LastError)
	}

	if err := store.MarkJobFailed(ctx, "job-1", "worker-a", "session gone", true, retryAt, now); err != nil {
		t.Fatalf("bury: %v", err)
	}
	leased, err = store.LeaseJobs(ctx, "worker-a", 1, retryAt.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("lease after bury: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("dead job leased = %d, want 0", len(leased))
	}
}

func TestAppendHistoryIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := testTime(t)

	records := []storage.HistoryRecord{
		{PlayerID: "alice", RoundID: "round-1", Outcome: storage.OutcomeWin, StakeCents: 500, PrizeCents: 900, CreatedAt: now},
		{PlayerID: "bob", RoundID: "round-1", Outcome: storage.OutcomeLose, StakeCents: 500, CreatedAt: now},
	}
	if err := store.AppendHistory(ctx, records); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendHistory(ctx, records); err != nil {
		t.Fatalf("replayed append: %v", err)
	}

	history, err := store.ListHistory(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d records, want 1", len(history))
	}
	if history[0].Outcome != storage.OutcomeWin || history[0].PrizeCents != 900 {
		t.Fatalf("history = %+v, want win with prize 900", history[0])
	}
}
