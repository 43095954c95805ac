package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/fake"
	"github.com/yourorg/cadence/internal/queue"
	"github.com/yourorg/cadence/internal/ratelimit"
	"github.com/yourorg/cadence/internal/testutil"
)

type testEnv struct {
	pool     *pgxpool.Pool
	engine   *Engine
	mailer   *fake.Mailer
	crm      *fake.CRM
	analyzer *fake.Analyzer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := testutil.NewTestPool(t)
	mailer := fake.NewMailer()
	crm := fake.NewCRM()
	analyzer := fake.NewAnalyzer()
	return &testEnv{
		pool:     pool,
		mailer:   mailer,
		crm:      crm,
		analyzer: analyzer,
		engine: &Engine{
			Pool:     pool,
			Mailer:   mailer,
			CRM:      crm,
			Analyzer: analyzer,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func (e *testEnv) seedJobs(t *testing.T, emails ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	campaignID, err := queue.CreateCampaign(ctx, e.pool, "test", domain.CampaignActive)
	require.NoError(t, err)
	_, err = queue.CreateCampaignJobs(ctx, e.pool, campaignID, emails, 3)
	require.NoError(t, err)
	return campaignID
}

// drive claims and processes jobs as workerID until the queue is
// drained, with a step ceiling to catch livelocks.
func (e *testEnv) drive(t *testing.T, workerID string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		job, err := ClaimNextJob(ctx, e.pool, workerID)
		require.NoError(t, err)
		if job == nil {
			return
		}
		e.engine.ProcessJob(ctx, job, workerID)
	}
	t.Fatal("queue did not drain within step ceiling")
}

func (e *testEnv) jobRow(t *testing.T, campaignID uuid.UUID) (uuid.UUID, domain.JobStatus, domain.Step) {
	t.Helper()
	var id uuid.UUID
	var status, step string
	require.NoError(t, e.pool.QueryRow(context.Background(), `
		SELECT id, status, current_step FROM jobs
		WHERE campaign_id = $1
		ORDER BY created_at, id LIMIT 1`, campaignID).Scan(&id, &status, &step))
	return id, domain.JobStatus(status), domain.Step(step)
}

func (e *testEnv) ledgerCount(t *testing.T, jobID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM job_steps WHERE job_id = $1`, jobID).Scan(&n))
	return n
}

func TestClaimConcurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	emails := make([]string, 10)
	for i := range emails {
		emails[i] = "c@example.com"
	}
	env.seedJobs(t, emails...)

	const claimers = 20
	results := make([]*domain.Job, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := ClaimNextJob(ctx, env.pool, uuid.New().String())
			assert.NoError(t, err)
			results[i] = job
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool)
	claimed := 0
	for _, job := range results {
		if job == nil {
			continue
		}
		claimed++
		assert.False(t, seen[job.ID], "job %s claimed twice", job.ID)
		seen[job.ID] = true
		assert.Equal(t, domain.StatusProcessing, job.Status)
		assert.NotNil(t, job.WorkerID)
	}
	assert.Equal(t, 10, claimed, "exactly min(claimers, jobs) claims succeed")
}

func TestClaimSetsLeaseFields(t *testing.T) {
	env := newTestEnv(t)
	env.seedJobs(t, "a@example.com")

	job, err := ClaimNextJob(context.Background(), env.pool, "w-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, domain.StatusProcessing, job.Status)
	require.NotNil(t, job.WorkerID)
	assert.Equal(t, "w-1", *job.WorkerID)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.LastHeartbeat)
}

func TestClaimOrderIsOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID, err := queue.CreateCampaign(ctx, env.pool, "ordered", domain.CampaignActive)
	require.NoError(t, err)

	var first uuid.UUID
	require.NoError(t, env.pool.QueryRow(ctx, `
		INSERT INTO jobs (campaign_id, email, created_at)
		VALUES ($1, 'old@example.com', NOW() - interval '1 hour')
		RETURNING id`, campaignID).Scan(&first))
	_, err = env.pool.Exec(ctx, `
		INSERT INTO jobs (campaign_id, email) VALUES ($1, 'new@example.com')`, campaignID)
	require.NoError(t, err)

	job, err := ClaimNextJob(ctx, env.pool, "w-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
}

func TestClaimHonorsScheduledFor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "a@example.com")

	_, err := env.pool.Exec(ctx, `
		UPDATE jobs SET scheduled_for = NOW() + interval '1 hour'
		WHERE campaign_id = $1`, campaignID)
	require.NoError(t, err)

	job, err := ClaimNextJob(ctx, env.pool, "w-1")
	require.NoError(t, err)
	assert.Nil(t, job, "future scheduled_for is not yet eligible")

	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET scheduled_for = NOW() - interval '1 second'
		WHERE campaign_id = $1`, campaignID)
	require.NoError(t, err)

	job, err = ClaimNextJob(ctx, env.pool, "w-1")
	require.NoError(t, err)
	assert.NotNil(t, job, "past scheduled_for is due")
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedJobs(t, "happy@example.com")
	env.crm.SetReply("happy@example.com", "yes, this is great")

	env.drive(t, uuid.New().String())

	jobID, status, step := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusCompleted, status)
	assert.Equal(t, domain.StepDone, step)
	assert.Equal(t, int64(3), env.ledgerCount(t, jobID))
	assert.Equal(t, 1, env.mailer.Deliveries())
	assert.Equal(t, []string{"notify_sales"}, env.crm.Actions("happy@example.com"))

	var completedAt *time.Time
	require.NoError(t, env.pool.QueryRow(context.Background(),
		`SELECT completed_at FROM jobs WHERE id = $1`, jobID).Scan(&completedAt))
	assert.NotNil(t, completedAt)

	// Driving again is a no-op: the job is terminal and unclaimable.
	env.drive(t, uuid.New().String())
	assert.Equal(t, int64(3), env.ledgerCount(t, jobID))
	assert.Equal(t, 1, env.mailer.Deliveries())
}

func TestNegativeReplyEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.seedJobs(t, "grumpy@example.com")
	env.crm.SetReply("grumpy@example.com", "no, stop emailing me")

	env.drive(t, uuid.New().String())

	assert.Equal(t, []string{"escalate"}, env.crm.Actions("grumpy@example.com"))
}

func TestStepSkipWhenLedgerRowExists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "a@example.com")
	jobID, _, _ := env.jobRow(t, campaignID)

	// Pretend an earlier claim completed the send but crashed before
	// advancing the job.
	_, err := env.pool.Exec(ctx, `
		INSERT INTO job_steps (job_id, step, status, output)
		VALUES ($1, 'send_email', 'completed', '{"message_id":"msg-prior"}')`, jobID)
	require.NoError(t, err)

	workerID := uuid.New().String()
	job, err := ClaimNextJob(ctx, env.pool, workerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	env.engine.ProcessJob(ctx, job, workerID)

	// The mailer was never invoked; the job advanced off the ledger.
	assert.Equal(t, 0, env.mailer.Deliveries())
	_, status, step := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusPending, status)
	assert.Equal(t, domain.StepAnalyze, step)
	assert.Equal(t, int64(1), env.ledgerCount(t, jobID))
}

func TestRepeatedProcessingNeverDuplicatesLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "a@example.com")
	jobID, _, _ := env.jobRow(t, campaignID)

	env.drive(t, uuid.New().String())
	require.Equal(t, int64(3), env.ledgerCount(t, jobID))

	// Force the job back under our lease as if a duplicate delivery of
	// the same snapshot arrived; the ledger skip keeps everything at
	// one row per step.
	workerID := uuid.New().String()
	_, err := env.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'processing', current_step = 'take_action',
			worker_id = $1, started_at = NOW(), last_heartbeat = NOW(),
			completed_at = NULL
		WHERE id = $2`, workerID, jobID)
	require.NoError(t, err)

	job, err := ClaimNextJob(ctx, env.pool, "other")
	require.NoError(t, err)
	require.Nil(t, job, "processing job must not be claimable")

	snapshot := &domain.Job{
		ID:          jobID,
		CampaignID:  campaignID,
		Email:       "a@example.com",
		CurrentStep: domain.StepTakeAction,
		Status:      domain.StatusProcessing,
		MaxRetries:  3,
	}
	env.engine.ProcessJob(ctx, snapshot, workerID)

	assert.Equal(t, int64(3), env.ledgerCount(t, jobID))
	assert.Equal(t, 1, env.mailer.Deliveries())
	// The ledger skip means the CRM was not invoked a second time.
	assert.Equal(t, []string{"follow_up"}, env.crm.Actions("a@example.com"))
}

func TestInvalidAddressFailsPermanently(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedJobs(t, "broken@example.com")
	env.mailer.FailAddresses["broken@example.com"] = true

	env.drive(t, uuid.New().String())

	jobID, status, step := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, domain.StepSendEmail, step)

	var ledgerStatus string
	require.NoError(t, env.pool.QueryRow(context.Background(),
		`SELECT status FROM job_steps WHERE job_id = $1 AND step = 'send_email'`,
		jobID).Scan(&ledgerStatus))
	assert.Equal(t, "failed", ledgerStatus)

	var errMsg *string
	require.NoError(t, env.pool.QueryRow(context.Background(),
		`SELECT error_message FROM jobs WHERE id = $1`, jobID).Scan(&errMsg))
	require.NotNil(t, errMsg)
	assert.NotEmpty(t, *errMsg)

	// Failed is terminal: never claimable again.
	job, err := ClaimNextJob(context.Background(), env.pool, "w-x")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestTimeoutRequeuesWithBackoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "slow@example.com")
	env.mailer.TimeoutAddresses["slow@example.com"] = true

	workerID := uuid.New().String()
	job, err := ClaimNextJob(ctx, env.pool, workerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	env.engine.ProcessJob(ctx, job, workerID)

	jobID, status, step := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusPending, status)
	assert.Equal(t, domain.StepSendEmail, step, "step unchanged on retry")
	assert.Equal(t, int64(0), env.ledgerCount(t, jobID), "no ledger row for a failed attempt")

	var retryCount int
	var workerCol *string
	var scheduledFor *time.Time
	require.NoError(t, env.pool.QueryRow(ctx, `
		SELECT retry_count, worker_id, scheduled_for FROM jobs WHERE id = $1`,
		jobID).Scan(&retryCount, &workerCol, &scheduledFor))
	assert.Equal(t, 1, retryCount)
	assert.Nil(t, workerCol)
	require.NotNil(t, scheduledFor)
	assert.True(t, scheduledFor.After(time.Now()), "backoff pushes eligibility out")
}

func TestRetryCeilingConvertsToFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "slow@example.com")
	env.mailer.TimeoutAddresses["slow@example.com"] = true

	_, err := env.pool.Exec(ctx, `
		UPDATE jobs SET retry_count = 3 WHERE campaign_id = $1`, campaignID)
	require.NoError(t, err)

	workerID := uuid.New().String()
	job, err := ClaimNextJob(ctx, env.pool, workerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	env.engine.ProcessJob(ctx, job, workerID)

	_, status, _ := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusFailed, status)
}

func TestRecoverStalledJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedJobs(t, "stale@example.com", "fresh@example.com")

	staleJob, err := ClaimNextJob(ctx, env.pool, "w-stale")
	require.NoError(t, err)
	require.NotNil(t, staleJob)
	freshJob, err := ClaimNextJob(ctx, env.pool, "w-fresh")
	require.NoError(t, err)
	require.NotNil(t, freshJob)

	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NOW() - interval '10 minutes'
		WHERE id = $1`, staleJob.ID)
	require.NoError(t, err)

	n, err := RecoverStalledJobs(ctx, env.pool, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var status string
	var workerCol *string
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT status, worker_id FROM jobs WHERE id = $1`, staleJob.ID,
	).Scan(&status, &workerCol))
	assert.Equal(t, "pending", status)
	assert.Nil(t, workerCol)

	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT status, worker_id FROM jobs WHERE id = $1`, freshJob.ID,
	).Scan(&status, &workerCol))
	assert.Equal(t, "processing", status, "fresh heartbeat is untouched")
	require.NotNil(t, workerCol)
	assert.Equal(t, "w-fresh", *workerCol)
}

func TestRecoverFallsBackToStartedAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedJobs(t, "nobeat@example.com")

	job, err := ClaimNextJob(ctx, env.pool, "w-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	// A worker that died before its first heartbeat: only started_at
	// marks the claim time.
	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NULL,
		               started_at = NOW() - interval '10 minutes'
		WHERE id = $1`, job.ID)
	require.NoError(t, err)

	n, err := RecoverStalledJobs(ctx, env.pool, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoverNeverTouchesTerminalJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "done@example.com")

	env.drive(t, uuid.New().String())
	_, status, _ := env.jobRow(t, campaignID)
	require.Equal(t, domain.StatusCompleted, status)

	n, err := RecoverStalledJobs(ctx, env.pool, -time.Second, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdvanceFencedAfterLeaseRevocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "a@example.com")

	workerID := uuid.New().String()
	job, err := ClaimNextJob(ctx, env.pool, workerID)
	require.NoError(t, err)
	require.NotNil(t, job)

	// The sweeper revokes the lease out from under the worker.
	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NOW() - interval '10 minutes'
		WHERE id = $1`, job.ID)
	require.NoError(t, err)
	n, err := RecoverStalledJobs(ctx, env.pool, time.Minute, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	env.engine.ProcessJob(ctx, job, workerID)

	// The stale worker's transition was discarded wholesale: the job
	// is pending at the same step with no ledger row committed.
	jobID, status, step := env.jobRow(t, campaignID)
	assert.Equal(t, domain.StatusPending, status)
	assert.Equal(t, domain.StepSendEmail, step)
	assert.Equal(t, int64(0), env.ledgerCount(t, jobID))
}

func TestRecoverReleasesInflightSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "held@example.com")

	throttle := ratelimit.NewThrottle(testutil.NewTestRedis(t))
	require.NoError(t, throttle.SetSendCap(ctx, campaignID.String(), 1))

	job, err := ClaimNextJob(ctx, env.pool, "w-dead")
	require.NoError(t, err)
	require.NotNil(t, job)

	// The worker grabs its send slot and dies before releasing it.
	ok, err := throttle.Acquire(ctx, campaignID.String(), job.ID.String())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = throttle.Acquire(ctx, campaignID.String(), uuid.New().String())
	require.NoError(t, err)
	require.False(t, ok, "campaign is at its cap while the slot is held")

	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NOW() - interval '10 minutes'
		WHERE id = $1`, job.ID)
	require.NoError(t, err)

	n, err := RecoverStalledJobs(ctx, env.pool, time.Minute, throttle)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// The sweep freed the dead worker's slot along with its lease.
	ok, err = throttle.Acquire(ctx, campaignID.String(), uuid.New().String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHeartbeatRefreshesLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedJobs(t, "beat@example.com")

	job, err := ClaimNextJob(ctx, env.pool, "w-beat")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Age the heartbeat so a refresh is observable.
	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NOW() - interval '1 hour'
		WHERE id = $1`, job.ID)
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runHeartbeat(ctx, env.pool, job.ID, "w-beat",
			10*time.Millisecond, stop, env.engine.Logger)
	}()

	assert.Eventually(t, func() bool {
		var hb *time.Time
		err := env.pool.QueryRow(ctx,
			`SELECT last_heartbeat FROM jobs WHERE id = $1`, job.ID).Scan(&hb)
		return err == nil && hb != nil && time.Since(*hb) < time.Minute
	}, 5*time.Second, 20*time.Millisecond, "heartbeat never refreshed the lease")

	close(stop)
	<-done
}

func TestHeartbeatStopsAfterLeaseRevocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedJobs(t, "revoked@example.com")

	job, err := ClaimNextJob(ctx, env.pool, "w-old")
	require.NoError(t, err)
	require.NotNil(t, job)

	// The lease goes stale and the sweeper reclaims the job before the
	// old worker's next beat.
	_, err = env.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat = NOW() - interval '10 minutes'
		WHERE id = $1`, job.ID)
	require.NoError(t, err)
	n, err := RecoverStalledJobs(ctx, env.pool, time.Minute, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runHeartbeat(ctx, env.pool, job.ID, "w-old",
			10*time.Millisecond, stop, env.engine.Logger)
	}()

	select {
	case <-done:
		// Fenced on the first zero-row update.
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat kept running after lease revocation")
	}

	// The stale beater never re-animated the reclaimed job.
	var status string
	var hb *time.Time
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT status, last_heartbeat FROM jobs WHERE id = $1`, job.ID,
	).Scan(&status, &hb))
	assert.Equal(t, "pending", status)
	assert.Nil(t, hb)
}

func TestLedgerReadFailureLeavesJobUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	campaignID := env.seedJobs(t, "a@example.com")

	workerID := uuid.New().String()
	job, err := ClaimNextJob(ctx, env.pool, workerID)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Break the ledger so the read errors out.
	_, err = env.pool.Exec(ctx, `DROP TABLE job_steps`)
	require.NoError(t, err)

	env.engine.ProcessJob(ctx, job, workerID)

	// A store failure consumes no retry budget and runs no step: the
	// job stays claimed until stall recovery requeues it.
	var status string
	var workerCol *string
	var retryCount int
	require.NoError(t, env.pool.QueryRow(ctx, `
		SELECT status, worker_id, retry_count FROM jobs WHERE campaign_id = $1`,
		campaignID).Scan(&status, &workerCol, &retryCount))
	assert.Equal(t, "processing", status)
	require.NotNil(t, workerCol)
	assert.Equal(t, workerID, *workerCol)
	assert.Zero(t, retryCount)
	assert.Equal(t, 0, env.mailer.Deliveries())
}
