package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/domain"
)

// advanceStep records the ledger row for the job's current step and
// advances the job, in one transaction. On a non-terminal step the job
// returns to pending at the next step with its lease cleared; on the
// terminal step it is marked completed.
//
// The ledger insert uses ON CONFLICT DO NOTHING so re-advancing after
// a crash-between-action-and-commit, or after a ledger-skip, never
// creates a second (job, step) row. The job update is fenced on
// (status = processing AND worker_id = ours); a fence miss means the
// lease was revoked by stall recovery and the transition is discarded.
func advanceStep(ctx context.Context, pool *pgxpool.Pool,
	job *domain.Job, workerID string, output []byte) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin advance: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if output == nil {
		output = []byte(`{}`)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO job_steps (job_id, step, status, output)
		VALUES ($1, $2, 'completed', $3)
		ON CONFLICT (job_id, step) DO NOTHING`,
		job.ID, string(job.CurrentStep), output)
	if err != nil {
		return false, fmt.Errorf("write step ledger: %w", err)
	}

	var tag pgconn.CommandTag
	if job.CurrentStep.Terminal() {
		tag, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status         = 'completed',
				current_step   = 'done',
				completed_at   = NOW(),
				worker_id      = NULL,
				started_at     = NULL,
				last_heartbeat = NULL
			WHERE id = $1
			  AND status = 'processing'
			  AND worker_id = $2`, job.ID, workerID)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status         = 'pending',
				current_step   = $1,
				worker_id      = NULL,
				started_at     = NULL,
				last_heartbeat = NULL
			WHERE id = $2
			  AND status = 'processing'
			  AND worker_id = $3`,
			string(job.CurrentStep.Next()), job.ID, workerID)
	}
	if err != nil {
		return false, fmt.Errorf("advance job: %w", err)
	}
	if tag.RowsAffected() != 1 {
		// Lease revoked mid-step: roll the ledger write back too, the
		// new owner will re-drive the step.
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit advance: %w", err)
	}
	return true, nil
}

// markRetry re-queues the job at the same step for a future attempt,
// incrementing retry_count and pushing scheduled_for out by an
// exponential backoff. No ledger row is written, so the step re-runs.
func markRetry(ctx context.Context, pool *pgxpool.Pool,
	job *domain.Job, workerID string, cause error) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	backoff := computeBackoff(job.RetryCount)
	tag, err := pool.Exec(ctx, `
		UPDATE jobs SET
			status         = 'pending',
			scheduled_for  = NOW() + ($1 * interval '1 millisecond'),
			retry_count    = retry_count + 1,
			error_message  = $2,
			worker_id      = NULL,
			started_at     = NULL,
			last_heartbeat = NULL
		WHERE id = $3
		  AND status = 'processing'
		  AND worker_id = $4`,
		backoff.Milliseconds(), cause.Error(), job.ID, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// markFailed moves the job to the terminal failed status and records a
// failed ledger row for the step as an audit trail. Failed jobs keep
// their error message and are never returned by a claim again.
func markFailed(ctx context.Context, pool *pgxpool.Pool,
	job *domain.Job, workerID string, cause error) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET
			status         = 'failed',
			error_message  = $1,
			worker_id      = NULL,
			started_at     = NULL,
			last_heartbeat = NULL
		WHERE id = $2
		  AND status = 'processing'
		  AND worker_id = $3`,
		cause.Error(), job.ID, workerID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	output, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_, err = tx.Exec(ctx, `
		INSERT INTO job_steps (job_id, step, status, output)
		VALUES ($1, $2, 'failed', $3)
		ON CONFLICT (job_id, step) DO NOTHING`,
		job.ID, string(job.CurrentStep), output)
	if err != nil {
		return false, fmt.Errorf("write failure ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit fail: %w", err)
	}
	return true, nil
}

// computeBackoff returns an exponentially increasing delay with ±25%
// jitter. Base = 5s, max = 1h, exponent capped to prevent overflow.
func computeBackoff(attempt int) time.Duration {
	base := 5 * time.Second
	maxDelay := 1 * time.Hour
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	d := base * time.Duration(1<<shift)
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d/2))) - d/4
	return d + jitter
}
