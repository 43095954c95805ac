package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/domain"
	"github.com/yourorg/cadence/internal/queue"
)

func createCampaignCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "create-campaign <name>",
		Short: "Insert a campaign row and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			id, err := queue.CreateCampaign(cmd.Context(), pool,
				args[0], domain.CampaignStatus(status))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.CampaignActive),
		"initial campaign status (draft|active|paused)")
	return cmd
}
