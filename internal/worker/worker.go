// Package worker implements the claim → step → advance loop, the
// per-job heartbeat lease, and stall recovery. All cross-worker
// coordination happens through conditional updates on the jobs table;
// no process-level locking is involved.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/metrics"
)

type Worker struct {
	ID             uuid.UUID
	Engine         *Engine
	Logger         *slog.Logger
	PollInterval   time.Duration
	HeartbeatEvery time.Duration
	startDone      chan struct{}
	startDoneOnce  sync.Once
}

func New(id uuid.UUID, engine *Engine, logger *slog.Logger,
	pollInterval, heartbeatEvery time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if heartbeatEvery <= 0 {
		heartbeatEvery = 5 * time.Second
	}
	return &Worker{
		ID:             id,
		Engine:         engine,
		Logger:         logger,
		PollInterval:   pollInterval,
		HeartbeatEvery: heartbeatEvery,
		startDone:      make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is canceled. Each claimed job is
// processed synchronously; the heartbeat goroutine lives only for the
// duration of that job.
func (w *Worker) Start(ctx context.Context) {
	defer w.startDoneOnce.Do(func() { close(w.startDone) })

	w.Logger.Info("worker starting", "worker_id", w.ID)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := ClaimNextJob(ctx, w.Engine.Pool, w.ID.String())
		if err != nil {
			w.Logger.Error("claim error", "err", err)
			time.Sleep(w.PollInterval)
			continue
		}
		if job == nil {
			metrics.ClaimsEmpty.Inc()
			time.Sleep(w.PollInterval)
			continue
		}
		metrics.ClaimsTotal.Inc()

		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	stop := make(chan struct{})
	go runHeartbeat(ctx, w.Engine.Pool, job.ID, w.ID.String(),
		w.HeartbeatEvery, stop, w.Logger)

	w.Engine.ProcessJob(ctx, job, w.ID.String())
	close(stop)
}

// DrainAndWait blocks until the poll loop exits (usually after ctx
// cancellation) or until the caller's timeout is reached. A job
// abandoned by a hard shutdown is recovered later by the sweeper.
func (w *Worker) DrainAndWait(ctx context.Context) error {
	select {
	case <-w.startDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
