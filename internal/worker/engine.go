package worker

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/collab"
	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/metrics"
	"github.com/yourorg/cadence/internal/ratelimit"
)

// Engine drives one workflow step per call. It is stateless beyond its
// collaborator handles, so any number of workers can share one Engine
// value or build their own.
type Engine struct {
	Pool     *pgxpool.Pool
	Mailer   collab.Mailer
	CRM      collab.CRM
	Analyzer collab.Analyzer
	Throttle *ratelimit.Throttle // optional send cap; nil disables
	Logger   *slog.Logger
}

// ProcessJob executes the job's current step exactly once and advances
// its state. Safe to call any number of times on the same job snapshot
// or its refreshed descendants:
//
//   - A completed ledger row for (job, step) skips the collaborator
//     call entirely and goes straight to the advance.
//   - The advance itself is conditional on the caller still holding
//     the lease, so a revoked claim changes nothing.
//
// The caller must have claimed the job as workerID.
func (e *Engine) ProcessJob(ctx context.Context, job *domain.Job, workerID string) {
	log := e.Logger.With(
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"step", job.CurrentStep,
		"attempt", job.RetryCount,
	)

	if job.Status != domain.StatusProcessing || job.CurrentStep == domain.StepDone {
		log.Warn("process called on non-claimable snapshot", "status", job.Status)
		return
	}

	rec, err := getStepRecord(ctx, e.Pool, job, job.CurrentStep)
	if err != nil {
		// A store failure is not a step failure: leave the job claimed
		// and untouched. The lease goes stale and the sweep requeues it
		// without consuming retry budget.
		log.Error("ledger read failed", "err", err)
		return
	}

	var output []byte
	if rec != nil && rec.Status == domain.StepCompleted {
		// Step already ran to completion under an earlier claim; only
		// the job advance is missing.
		log.Info("step already recorded, skipping action")
		output = rec.Output
	} else {
		output, err = e.runStep(ctx, job)
		if err != nil {
			e.handleStepFailure(ctx, job, workerID, err, log)
			return
		}
	}

	updated, err := advanceStep(ctx, e.Pool, job, workerID, output)
	if err != nil {
		log.Error("advance failed", "err", err)
		return
	}
	if !updated {
		log.Warn("stale advance ignored; lease was revoked")
		return
	}

	if job.CurrentStep.Terminal() {
		metrics.JobsCompleted.Inc()
		log.Info("job completed")
	} else {
		log.Info("step completed", "next_step", job.CurrentStep.Next())
	}
}

func (e *Engine) handleStepFailure(ctx context.Context, job *domain.Job,
	workerID string, cause error, log *slog.Logger) {
	switch classify(job, cause) {
	case DecisionFail:
		updated, err := markFailed(ctx, e.Pool, job, workerID, cause)
		if err != nil {
			log.Error("mark failed errored", "err", err)
			return
		}
		if !updated {
			log.Warn("stale failure transition ignored")
			return
		}
		metrics.JobsFailed.Inc()
		log.Warn("job failed permanently", "err", cause)
	case DecisionRetry:
		e.requeue(ctx, job, workerID, cause, log)
	}
}

func (e *Engine) requeue(ctx context.Context, job *domain.Job,
	workerID string, cause error, log *slog.Logger) {
	updated, err := markRetry(ctx, e.Pool, job, workerID, cause)
	if err != nil {
		log.Error("mark retry errored", "err", err)
		return
	}
	if !updated {
		log.Warn("stale retry transition ignored")
		return
	}
	metrics.JobsRetried.Inc()
	log.Warn("step failed, will retry",
		"err", cause,
		"retry_count", job.RetryCount+1,
		"max_retries", job.MaxRetries)
}
