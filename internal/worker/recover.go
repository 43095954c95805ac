package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/cadence/internal/metrics"
	"github.com/yourorg/cadence/internal/ratelimit"
)

// sweeperLockKey is the PostgreSQL advisory lock key used for sweeper
// election. One sweeper wins the lock across all workers in the
// cluster; the rest idle.
const sweeperLockKey = int64(0x43414445)

// RecoverStalledJobs resets processing jobs whose heartbeat (or
// started_at, when no heartbeat was ever written) is older than
// timeout. The staleness predicate is re-checked inside the UPDATE, so
// a job that heartbeats or completes between scan and write is left
// untouched, and two concurrent sweepers cannot double-reset a row.
// Completed and failed jobs are never candidates. Returns the number
// of jobs reset.
//
// When a throttle is configured, each reset job's inflight send slot is
// released too: a worker that died between acquiring the slot and its
// deferred release would otherwise hold it forever, and enough leaked
// slots pin the campaign at its send cap.
func RecoverStalledJobs(ctx context.Context, pool *pgxpool.Pool,
	timeout time.Duration, throttle *ratelimit.Throttle) (int64, error) {
	rows, err := pool.Query(ctx, `
		UPDATE jobs SET
			status         = 'pending',
			worker_id      = NULL,
			started_at     = NULL,
			last_heartbeat = NULL
		WHERE status = 'processing'
		  AND COALESCE(last_heartbeat, started_at) < NOW() - ($1 * interval '1 second')
		RETURNING id, campaign_id`,
		int64(timeout.Seconds()))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type resetJob struct {
		id         uuid.UUID
		campaignID uuid.UUID
	}
	var resets []resetJob
	for rows.Next() {
		var r resetJob
		if err := rows.Scan(&r.id, &r.campaignID); err != nil {
			return 0, err
		}
		resets = append(resets, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if throttle != nil {
		for _, r := range resets {
			throttle.Release(ctx, r.campaignID.String(), r.id.String())
		}
	}

	n := int64(len(resets))
	metrics.JobsRecovered.Add(float64(n))
	return n, nil
}

// RunSweeper competes for the advisory lock and runs the recovery loop
// on the winner. The lock is held on a dedicated connection so it
// auto-releases if the process crashes. Non-winners sleep and retry.
func RunSweeper(ctx context.Context, pool *pgxpool.Pool,
	interval, stallTimeout time.Duration, throttle *ratelimit.Throttle,
	logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pool.Acquire(ctx)
		if err != nil {
			logger.Error("sweeper: acquire failed", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}

		var won bool
		err = conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock($1)`, sweeperLockKey).Scan(&won)
		if err != nil || !won {
			conn.Release()
			time.Sleep(10 * time.Second)
			continue
		}

		logger.Info("sweeper: won election")
		runSweepLoop(ctx, pool, interval, stallTimeout, throttle, logger)
		conn.Release()
	}
}

// runSweepLoop ticks until ctx is canceled or a sweep errors out;
// erroring out drops back to the election so a worker with a healthy
// connection can take over.
func runSweepLoop(ctx context.Context, pool *pgxpool.Pool,
	interval, stallTimeout time.Duration, throttle *ratelimit.Throttle,
	logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := RecoverStalledJobs(ctx, pool, stallTimeout, throttle)
			if err != nil {
				logger.Error("sweeper: recovery failed", "err", err)
				return
			}
			if n > 0 {
				logger.Info("sweeper: reset stalled jobs", "count", n)
			}
		}
	}
}
