package app

import (
	"context"
	"errors"
	"testing"
	"time"

	gamestorage "github.com/louisbranch/bingohall/internal/services/game/storage"
)

type fakeJobStore struct {
	leased []gamestorage.Job

	doneIDs      []string
	doneConsumer string

	failedIDs   []string
	failedDead  bool
	failedError string
	failedNext  time.Time
}

func (f *fakeJobStore) EnqueueJob(ctx context.Context, job gamestorage.Job) error {
	return nil
}

func (f *fakeJobStore) LeaseJobs(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]gamestorage.Job, error) {
	jobs := f.leased
	f.leased = nil
	return jobs, nil
}

func (f *fakeJobStore) MarkJobDone(ctx context.Context, jobID, consumer string, now time.Time) error {
	f.doneIDs = append(f.doneIDs, jobID)
	f.doneConsumer = consumer
	return nil
}

func (f *fakeJobStore) MarkJobFailed(ctx context.Context, jobID, consumer, lastError string, dead bool, nextAttempt, now time.Time) error {
	f.failedIDs = append(f.failedIDs, jobID)
	f.failedDead = dead
	f.failedError = lastError
	f.failedNext = nextAttempt
	return nil
}

type fakeHandler struct {
	err     error
	handled []string
}

func (f *fakeHandler) HandleJob(ctx context.Context, job gamestorage.Job) error {
	f.handled = append(f.handled, job.ID)
	return f.err
}

type recordedAttempts struct {
	attempts []Attempt
}

func (r *recordedAttempts) RecordAttempt(ctx context.Context, attempt Attempt) error {
	r.attempts = append(r.attempts, attempt)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestProcessBatchMarksSuccessDone(t *testing.T) {
	now := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	store := &fakeJobStore{leased: []gamestorage.Job{
		{ID: "job-1", Kind: "presence.cleanup", AttemptCount: 1},
	}}
	handler := &fakeHandler{}
	recorder := &recordedAttempts{}

	worker, err := New(store, handler, recorder, Config{Consumer: "worker-a"}, fixedClock(now))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	processed, err := worker.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if len(handler.handled) != 1 || handler.handled[0] != "job-1" {
		t.Fatalf("handled = %v, want [job-1]", handler.handled)
	}
	if len(store.doneIDs) != 1 || store.doneIDs[0] != "job-1" {
		t.Fatalf("done ids = %v, want [job-1]", store.doneIDs)
	}
	if store.doneConsumer != "worker-a" {
		t.Fatalf("done consumer = %q, want %q", store.doneConsumer, "worker-a")
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0].Outcome != outcomeSucceeded {
		t.Fatalf("attempts = %+v, want one succeeded", recorder.attempts)
	}
}

func TestProcessBatchSchedulesRetryWithBackoff(t *testing.T) {
	now := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	store := &fakeJobStore{leased: []gamestorage.Job{
		{ID: "job-1", Kind: "round.history", AttemptCount: 3},
	}}
	handler := &fakeHandler{err: errors.New("ledger unavailable")}
	recorder := &recordedAttempts{}

	worker, err := New(store, handler, recorder, Config{
		RetryBackoff:  5 * time.Second,
		RetryMaxDelay: time.Minute,
		MaxAttempts:   8,
	}, fixedClock(now))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if _, err := worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(store.failedIDs) != 1 {
		t.Fatalf("failed ids = %v, want one entry", store.failedIDs)
	}
	if store.failedDead {
		t.Fatal("job buried before max attempts")
	}
	// Third attempt doubles the 5s base twice.
	wantNext := now.Add(20 * time.Second)
	if !store.failedNext.Equal(wantNext) {
		t.Fatalf("next attempt = %v, want %v", store.failedNext, wantNext)
	}
	if store.failedError != "ledger unavailable" {
		t.Fatalf("last error = %q, want %q", store.failedError, "ledger unavailable")
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0].Outcome != outcomeRetry {
		t.Fatalf("attempts = %+v, want one retry", recorder.attempts)
	}
}

func TestProcessBatchBuriesAtMaxAttempts(t *testing.T) {
	now := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	store := &fakeJobStore{leased: []gamestorage.Job{
		{ID: "job-1", Kind: "cards.reconcile", AttemptCount: 8},
	}}
	handler := &fakeHandler{err: errors.New("still broken")}
	recorder := &recordedAttempts{}

	worker, err := New(store, handler, recorder, Config{MaxAttempts: 8}, fixedClock(now))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if _, err := worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !store.failedDead {
		t.Fatal("expected job buried at max attempts")
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0].Outcome != outcomeDead {
		t.Fatalf("attempts = %+v, want one dead", recorder.attempts)
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	worker, err := New(&fakeJobStore{}, &fakeHandler{}, nil, Config{
		RetryBackoff:  5 * time.Second,
		RetryMaxDelay: time.Minute,
	}, nil)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if got := worker.backoff(1); got != 5*time.Second {
		t.Fatalf("backoff(1) = %v, want 5s", got)
	}
	if got := worker.backoff(4); got != 40*time.Second {
		t.Fatalf("backoff(4) = %v, want 40s", got)
	}
	if got := worker.backoff(30); got != time.Minute {
		t.Fatalf("backoff(30) = %v, want 1m", got)
	}
}
