package worker

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/domain"
)

// claimSQL atomically selects and locks a single eligible job.
//
// FOR UPDATE SKIP LOCKED prevents contention: workers that lose the
// race move on immediately rather than blocking, and no two workers
// can ever receive the same row. Eligibility is pending status with
// scheduled_for unset or due; ordering is oldest first with the ID as
// a deterministic tiebreak.
const claimSQL = `
WITH candidate AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
      AND (scheduled_for IS NULL OR scheduled_for <= NOW())
    ORDER BY created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs
SET
    status         = 'processing',
    worker_id      = $1,
    started_at     = NOW(),
    last_heartbeat = NOW()
FROM candidate
WHERE jobs.id = candidate.id
RETURNING
    jobs.id, jobs.campaign_id, jobs.email, jobs.current_step,
    jobs.status, jobs.worker_id, jobs.retry_count, jobs.max_retries,
    jobs.error_message, jobs.scheduled_for, jobs.created_at,
    jobs.started_at, jobs.completed_at, jobs.last_heartbeat`

// ClaimNextJob attempts to claim one eligible job for workerID.
// Returns nil, nil when no job is available (normal idle state, not an
// error).
func ClaimNextJob(ctx context.Context, pool *pgxpool.Pool, workerID string) (*domain.Job, error) {
	row := pool.QueryRow(ctx, claimSQL, workerID)
	job := &domain.Job{}
	if err := scanJob(row, job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// scanJob populates a Job from the columns returned by claimSQL.
// The column order must match the RETURNING clause exactly.
func scanJob(row pgx.Row, job *domain.Job) error {
	var step, status string
	err := row.Scan(
		&job.ID,
		&job.CampaignID,
		&job.Email,
		&step,
		&status,
		&job.WorkerID,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ErrorMessage,
		&job.ScheduledFor,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.LastHeartbeat,
	)
	if err != nil {
		return err
	}
	job.CurrentStep = domain.Step(step)
	job.Status = domain.JobStatus(status)
	return nil
}
