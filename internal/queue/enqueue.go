// Package queue owns campaign rows and bulk job creation. Workers
// never import it; their coordination happens through the jobs table.
package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateCampaignJobs inserts one pending send_email job per address
// for campaignID and returns the number inserted. The whole call is
// one transaction: a mid-way failure leaves zero rows visible.
//
// Duplicate addresses each get their own job: a customer appearing on
// a list twice is processed once per membership.
func CreateCampaignJobs(
	ctx context.Context,
	pool *pgxpool.Pool,
	campaignID uuid.UUID,
	emails []string,
	maxRetries int,
) (int64, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin bulk enqueue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows := make([][]any, len(emails))
	for i, email := range emails {
		rows[i] = []any{uuid.New(), campaignID, email, maxRetries}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"jobs"},
		[]string{"id", "campaign_id", "email", "max_retries"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit bulk enqueue: %w", err)
	}
	return n, nil
}
