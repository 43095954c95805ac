package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/testutil"
)

func TestCreateCampaignJobs(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	campaignID, err := CreateCampaign(ctx, pool, "spring-launch", domain.CampaignActive)
	require.NoError(t, err)

	emails := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		emails = append(emails, "c@example.com")
	}
	n, err := CreateCampaignJobs(ctx, pool, campaignID, emails, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)

	// Every row starts pending at the first step.
	var count int64
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE campaign_id = $1
		  AND status = 'pending'
		  AND current_step = 'send_email'
		  AND retry_count = 0`, campaignID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
}

func TestCreateCampaignJobsEmptyInput(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	campaignID, err := CreateCampaign(ctx, pool, "empty", domain.CampaignDraft)
	require.NoError(t, err)

	n, err := CreateCampaignJobs(ctx, pool, campaignID, nil, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE campaign_id = $1`, campaignID).Scan(&count))
	assert.Zero(t, count)
}

func TestCreateCampaignJobsRollsBackOnFailure(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	// Unknown campaign violates the foreign key mid-copy; no rows may
	// survive.
	_, err := CreateCampaignJobs(ctx, pool, uuid.New(),
		[]string{"a@example.com", "b@example.com"}, 3)
	require.Error(t, err)

	var count int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count))
	assert.Zero(t, count)
}

func TestCampaignStatsAndListJobs(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	campaignID, err := CreateCampaign(ctx, pool, "stats", domain.CampaignActive)
	require.NoError(t, err)
	_, err = CreateCampaignJobs(ctx, pool, campaignID,
		[]string{"a@example.com", "b@example.com", "c@example.com"}, 3)
	require.NoError(t, err)

	stats, err := GetCampaignStats(ctx, pool, campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(3), stats.Total())

	jobs, err := ListJobs(ctx, pool, JobFilter{
		CampaignID: campaignID,
		Status:     domain.StatusPending,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, domain.StepSendEmail, j.CurrentStep)
	}
}

func TestSetCampaignStatus(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	id, err := CreateCampaign(ctx, pool, "pausable", domain.CampaignActive)
	require.NoError(t, err)

	ok, err := SetCampaignStatus(ctx, pool, id, domain.CampaignPaused)
	require.NoError(t, err)
	assert.True(t, ok)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status))
	assert.Equal(t, string(domain.CampaignPaused), status)
}
