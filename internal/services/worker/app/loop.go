// Package app runs the background job loop: lease pending jobs from the
// durable queue, hand them to the game engine's handlers, and record the
// outcome of every attempt.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	gamestorage "github.com/louisbranch/bingohall/internal/services/game/storage"
)

const (
	defaultConsumer      = "bingohall-worker"
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultBatchSize     = 16
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

// Attempt outcome values recorded per processed job.
const (
	outcomeSucceeded = "succeeded"
	outcomeRetry     = "retry"
	outcomeDead      = "dead"
)

// Config controls the job loop.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// JobHandler processes one leased job. Implementations must be idempotent.
type JobHandler interface {
	HandleJob(ctx context.Context, job gamestorage.Job) error
}

// Attempt describes one processing attempt of one job.
type Attempt struct {
	JobID        string
	JobKind      string
	Outcome      string
	AttemptCount int32
	Error        string
	CreatedAt    time.Time
}

// AttemptRecorder persists processing attempts. A nil recorder disables
// attempt journaling.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Worker leases jobs from the durable queue and drives them to done or
// dead. Several workers may share one queue; the lease protocol keeps each
// job with a single owner at a time.
type Worker struct {
	jobs     gamestorage.JobStore
	handler  JobHandler
	recorder AttemptRecorder
	cfg      Config
	clock    func() time.Time
}

// New builds a worker loop. The clock is injectable for tests; nil means
// wall clock.
func New(jobs gamestorage.JobStore, handler JobHandler, recorder AttemptRecorder, cfg Config, clock func() time.Time) (*Worker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Worker{
		jobs:     jobs,
		handler:  handler,
		recorder: recorder,
		cfg:      cfg.normalized(),
		clock:    clock,
	}, nil
}

// Run polls until the context ends. Draining a non-empty queue skips the
// poll delay so a burst of jobs is worked through back to back.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		processed, err := w.ProcessBatch(ctx)
		if err != nil {
			log.Printf("lease jobs consumer=%s err=%v", w.cfg.Consumer, err)
		}
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessBatch leases and processes up to one batch of due jobs.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	jobs, err := w.jobs.LeaseJobs(ctx, w.cfg.Consumer, w.cfg.BatchSize, w.clock().UTC(), w.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease jobs: %w", err)
	}
	for _, job := range jobs {
		w.processJob(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) processJob(ctx context.Context, job gamestorage.Job) {
	now := w.clock().UTC()
	handleErr := w.handler.HandleJob(ctx, job)
	if handleErr == nil {
		if err := w.jobs.MarkJobDone(ctx, job.ID, w.cfg.Consumer, now); err != nil {
			log.Printf("mark job done id=%s kind=%s err=%v", job.ID, job.Kind, err)
			return
		}
		w.record(ctx, job, outcomeSucceeded, "")
		return
	}

	dead := int(job.AttemptCount) >= w.cfg.MaxAttempts
	outcome := outcomeRetry
	if dead {
		outcome = outcomeDead
	}
	nextAttempt := now.Add(w.backoff(job.AttemptCount))
	if err := w.jobs.MarkJobFailed(ctx, job.ID, w.cfg.Consumer, handleErr.Error(), dead, nextAttempt, now); err != nil {
		log.Printf("mark job failed id=%s kind=%s err=%v", job.ID, job.Kind, err)
		return
	}
	log.Printf("job %s id=%s kind=%s attempt=%d err=%v", outcome, job.ID, job.Kind, job.AttemptCount, handleErr)
	w.record(ctx, job, outcome, handleErr.Error())
}

// backoff doubles per attempt from the base delay, capped at the max.
func (w *Worker) backoff(attempt int32) time.Duration {
	delay := w.cfg.RetryBackoff
	for i := int32(1); i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.RetryMaxDelay {
			return w.cfg.RetryMaxDelay
		}
	}
	if delay > w.cfg.RetryMaxDelay {
		delay = w.cfg.RetryMaxDelay
	}
	return delay
}

func (w *Worker) record(ctx context.Context, job gamestorage.Job, outcome, lastError string) {
	if w.recorder == nil {
		return
	}
	err := w.recorder.RecordAttempt(ctx, Attempt{
		JobID:        job.ID,
		JobKind:      job.Kind,
		Outcome:      outcome,
		AttemptCount: job.AttemptCount,
		Error:        lastError,
		CreatedAt:    w.clock().UTC(),
	})
	if err != nil {
		log.Printf("record attempt id=%s kind=%s err=%v", job.ID, job.Kind, err)
	}
}
