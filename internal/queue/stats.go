package queue

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// CampaignStats is the per-status job breakdown for one campaign.
type CampaignStats struct {
	CampaignID uuid.UUID
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

func (s CampaignStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// GetCampaignStats aggregates job counts per status for campaignID.
func GetCampaignStats(ctx context.Context, pool *pgxpool.Pool,
	campaignID uuid.UUID) (CampaignStats, error) {
	stats := CampaignStats{CampaignID: campaignID}

	sql, args, err := psql.
		Select("status", "COUNT(*)").
		From("jobs").
		Where(sq.Eq{"campaign_id": campaignID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build stats query: %w", err)
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return stats, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan stats row: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.StatusPending:
			stats.Pending = count
		case domain.StatusProcessing:
			stats.Processing = count
		case domain.StatusCompleted:
			stats.Completed = count
		case domain.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	CampaignID uuid.UUID
	Status     domain.JobStatus
	Step       domain.Step
	Limit      uint64
}

// JobSummary is the admin-facing view of one job row.
type JobSummary struct {
	ID           uuid.UUID
	Email        string
	CurrentStep  domain.Step
	Status       domain.JobStatus
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// ListJobs returns job summaries matching f, oldest first.
func ListJobs(ctx context.Context, pool *pgxpool.Pool, f JobFilter) ([]JobSummary, error) {
	q := psql.
		Select("id", "email", "current_step", "status",
			"retry_count", "error_message", "created_at", "completed_at").
		From("jobs").
		OrderBy("created_at ASC", "id ASC")

	if f.CampaignID != uuid.Nil {
		q = q.Where(sq.Eq{"campaign_id": f.CampaignID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Step != "" {
		q = q.Where(sq.Eq{"current_step": string(f.Step)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var js JobSummary
		var step, status string
		if err := rows.Scan(&js.ID, &js.Email, &step, &status,
			&js.RetryCount, &js.ErrorMessage, &js.CreatedAt, &js.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		js.CurrentStep = domain.Step(step)
		js.Status = domain.JobStatus(status)
		out = append(out, js)
	}
	return out, rows.Err()
}
