// cmd/worker runs one worker process: claim loop, per-job heartbeat,
// stall sweeper election, and the Prometheus endpoint. Run as many
// instances as you want throughput; they coordinate only through the
// database.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/cadence/internal/collab"
	"github.com/yourorg/cadence/internal/config"
	"github.com/yourorg/cadence/internal/db"
	"github.com/yourorg/cadence/internal/fake"
	"github.com/yourorg/cadence/internal/migrate"
	"github.com/yourorg/cadence/internal/ratelimit"
	"github.com/yourorg/cadence/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Run(ctx, pool); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	// Per-campaign send throttling is optional; without Redis the
	// workers rely on provider rate-limit errors alone.
	var throttle *ratelimit.Throttle
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("parse redis URL failed", "err", err)
			os.Exit(1)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Error("redis ping failed", "err", err)
			os.Exit(1)
		}
		throttle = ratelimit.NewThrottle(rc)
		logger.Info("redis send throttle enabled")
	}

	var mailer collab.Mailer
	if cfg.SMTPHost != "" {
		mailer = collab.NewSMTPMailer(collab.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
		})
		logger.Info("smtp mailer enabled", "host", cfg.SMTPHost)
	} else {
		mailer = fake.NewMailer()
		logger.Warn("no SMTP host configured, using fake mailer")
	}

	engine := &worker.Engine{
		Pool:     pool,
		Mailer:   mailer,
		CRM:      fake.NewCRM(),
		Analyzer: fake.NewAnalyzer(),
		Throttle: throttle,
		Logger:   logger,
	}

	workerID := uuid.New()
	w := worker.New(workerID, engine, logger, cfg.PollInterval, cfg.HeartbeatEvery)

	// Sweeper: competes for an advisory lock; the winner resets
	// stalled jobs on every tick.
	go worker.RunSweeper(ctx, pool, cfg.SweepInterval, cfg.StallTimeout, throttle, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	logger.Info("worker ready", "worker_id", workerID)
	go w.Start(ctx)

	<-ctx.Done()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := w.DrainAndWait(drainCtx); err != nil {
		logger.Warn("shutdown drain timeout; stalled jobs will be swept", "err", err)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
