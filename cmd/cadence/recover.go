package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/ratelimit"
	"github.com/yourorg/cadence/internal/worker"
)

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run one stall-recovery sweep",
		Long: `Reset processing jobs whose heartbeat is older than the configured
stall timeout back to pending, releasing any inflight send slots they
held. Workers run this continuously; the command exists for manual
intervention and debugging.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			var throttle *ratelimit.Throttle
			if cfg.RedisURL != "" {
				redisOpts, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("parse redis URL: %w", err)
				}
				rc := redis.NewClient(redisOpts)
				defer rc.Close()
				throttle = ratelimit.NewThrottle(rc)
			}

			n, err := worker.RecoverStalledJobs(cmd.Context(), pool, cfg.StallTimeout, throttle)
			if err != nil {
				return err
			}
			fmt.Printf("reset %d stalled jobs\n", n)
			return nil
		},
	}
}
