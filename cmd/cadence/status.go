package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/queue"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <campaign-id>",
		Short: "Per-status job counts for a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("campaign id: %w", err)
			}

			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := queue.GetCampaignStats(cmd.Context(), pool, campaignID)
			if err != nil {
				return err
			}
			fmt.Printf("campaign %s\n", stats.CampaignID)
			fmt.Printf("  pending:    %d\n", stats.Pending)
			fmt.Printf("  processing: %d\n", stats.Processing)
			fmt.Printf("  completed:  %d\n", stats.Completed)
			fmt.Printf("  failed:     %d\n", stats.Failed)
			fmt.Printf("  total:      %d\n", stats.Total())
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	var status, step string
	var limit uint64
	cmd := &cobra.Command{
		Use:   "jobs [campaign-id]",
		Short: "List jobs, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.JobFilter{
				Status: domain.JobStatus(status),
				Step:   domain.Step(step),
				Limit:  limit,
			}
			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("campaign id: %w", err)
				}
				filter.CampaignID = id
			}

			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs, err := queue.ListJobs(cmd.Context(), pool, filter)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				msg := ""
				if j.ErrorMessage != nil {
					msg = " — " + *j.ErrorMessage
				}
				fmt.Printf("%s  %-10s %-12s retries=%d  %s%s\n",
					j.ID, j.Status, j.CurrentStep, j.RetryCount, j.Email, msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&step, "step", "", "filter by current step")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "max rows (0 = all)")
	return cmd
}
