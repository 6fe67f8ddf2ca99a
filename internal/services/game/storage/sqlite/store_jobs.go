package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// EnqueueJob inserts a durable work item. A dedupe key collision means the
// same logical work is already queued and the insert becomes a no-op.
func (s *Store) EnqueueJob(ctx context.Context, job storage.Job) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(job.Kind) == "" {
		return fmt.Errorf("job kind is required")
	}
	if job.PayloadJSON == "" {
		job.PayloadJSON = "{}"
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = job.CreatedAt
	}

	var dedupeKey sql.NullString
	if strings.TrimSpace(job.DedupeKey) != "" {
		dedupeKey = sql.NullString{String: job.DedupeKey, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (id, kind, payload_json, dedupe_key, status, attempt_count, next_attempt_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID, job.Kind, job.PayloadJSON, dedupeKey, storage.JobStatusPending,
		toMillis(job.NextAttemptAt), toMillis(job.CreatedAt), toMillis(job.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// LeaseJobs claims up to limit due pending jobs for the consumer. A job
// whose lease expired is reclaimed, so a crashed worker's work is retried.
func (s *Store) LeaseJobs(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.Job, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(consumer) == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		limit = 1
	}

	nowMillis := toMillis(now)
	leaseUntil := toMillis(now.Add(leaseTTL))

	var leased []storage.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id FROM jobs
WHERE status = ? AND next_attempt_at <= ?
  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
ORDER BY next_attempt_at
LIMIT ?`,
			storage.JobStatusPending, nowMillis, nowMillis, limit)
		if err != nil {
			return fmt.Errorf("select due jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan due job: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("read due jobs: %w", err)
		}
		rows.Close()

		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
UPDATE jobs SET lease_owner = ?, lease_expires_at = ?, attempt_count = attempt_count + 1, updated_at = ?
WHERE id = ? AND status = ?
  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)`,
				consumer, leaseUntil, nowMillis, id, storage.JobStatusPending, nowMillis)
			if err != nil {
				return fmt.Errorf("lease job: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("lease job result: %w", err)
			}
			if affected != 1 {
				continue
			}
			job, err := getJobTx(ctx, tx, id)
			if err != nil {
				return err
			}
			leased = append(leased, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// MarkJobDone completes a leased job. The lease owner guard keeps a slow
// worker from acking a job someone else reclaimed.
func (s *Store) MarkJobDone(ctx context.Context, jobID, consumer string, now time.Time) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	// Clearing the dedupe key lets the same logical work be queued again
	// after this run completes.
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET status = ?, dedupe_key = NULL, lease_owner = '', lease_expires_at = NULL, last_error = '', updated_at = ?
WHERE id = ? AND lease_owner = ? AND status = ?`,
		storage.JobStatusDone, toMillis(now), jobID, consumer, storage.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job done result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkJobFailed records a failed attempt. With dead set the job leaves the
// queue for good; otherwise it becomes due again at nextAttempt.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, consumer, lastError string, dead bool, nextAttempt, now time.Time) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}

	status := storage.JobStatusPending
	dedupeClause := ""
	if dead {
		status = storage.JobStatusDead
		dedupeClause = "dedupe_key = NULL, "
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET status = ?, `+dedupeClause+`lease_owner = '', lease_expires_at = NULL, last_error = ?, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND lease_owner = ? AND status = ?`,
		status, lastError, toMillis(nextAttempt), toMillis(now),
		jobID, consumer, storage.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job failed result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, jobID string) (storage.Job, error) {
	row := tx.QueryRowContext(ctx, `
SELECT id, kind, payload_json, dedupe_key, status, attempt_count, next_attempt_at,
       lease_owner, lease_expires_at, last_error, created_at, updated_at
FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func scanJob(row rowScanner) (storage.Job, error) {
	var job storage.Job
	var dedupeKey sql.NullString
	var nextAttemptAt, createdAt, updatedAt int64
	var leaseExpires sql.NullInt64
	err := row.Scan(&job.ID, &job.Kind, &job.PayloadJSON, &dedupeKey, &job.Status,
		&job.AttemptCount, &nextAttemptAt, &job.LeaseOwner, &leaseExpires,
		&job.LastError, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Job{}, storage.ErrNotFound
		}
		return storage.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if dedupeKey.Valid {
		job.DedupeKey = dedupeKey.String
	}
	job.NextAttemptAt = fromMillis(nextAttemptAt)
	if leaseExpires.Valid {
		job.LeaseExpires = fromMillis(leaseExpires.Int64)
	}
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}
