package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/domain"
)

// CreateCampaign inserts a campaign in the given status and returns
// its ID.
func CreateCampaign(ctx context.Context, pool *pgxpool.Pool,
	name string, status domain.CampaignStatus) (uuid.UUID, error) {
	var id uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, status)
		VALUES ($1, $2)
		RETURNING id`, name, string(status)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

// SetCampaignStatus moves a campaign between lifecycle states. The
// queue core does not gate claims on campaign status; this is an
// administrative marker only.
func SetCampaignStatus(ctx context.Context, pool *pgxpool.Pool,
	id uuid.UUID, status domain.CampaignStatus) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return false, fmt.Errorf("set campaign status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
