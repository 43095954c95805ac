package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// runHeartbeat refreshes last_heartbeat for one claimed job so stall
// recovery can tell a slow worker from a dead one. The update is
// fenced on (worker_id = ours AND status = processing); once the lease
// is revoked the first zero-row update stops the beater, so a stale
// worker can never re-animate a reclaimed job.
func runHeartbeat(
	ctx context.Context,
	pool *pgxpool.Pool,
	jobID uuid.UUID,
	workerID string,
	every time.Duration,
	stop <-chan struct{},
	logger *slog.Logger,
) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tag, err := pool.Exec(ctx, `
				UPDATE jobs
				SET last_heartbeat = NOW()
				WHERE id = $1
				  AND worker_id = $2
				  AND status = 'processing'`, jobID, workerID)
			if err != nil {
				logger.Warn("heartbeat failed", "job_id", jobID, "err", err)
				continue
			}
			if tag.RowsAffected() == 0 {
				logger.Warn("heartbeat fenced; lease revoked",
					"job_id", jobID)
				return
			}
		}
	}
}
