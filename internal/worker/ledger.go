package worker

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/domain"
)

// getStepRecord returns the ledger row for (jobID, step), or nil when
// the step has not been recorded yet.
func getStepRecord(ctx context.Context, pool *pgxpool.Pool,
	job *domain.Job, step domain.Step) (*domain.JobStep, error) {
	rec := &domain.JobStep{JobID: job.ID, Step: step}
	var status string
	err := pool.QueryRow(ctx, `
		SELECT id, status, output, created_at
		FROM job_steps
		WHERE job_id = $1 AND step = $2`,
		job.ID, string(step),
	).Scan(&rec.ID, &status, &rec.Output, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = domain.StepStatus(status)
	return rec, nil
}
