package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/queue"
)

func enqueueCmd() *cobra.Command {
	var file string
	var generate int
	cmd := &cobra.Command{
		Use:   "enqueue <campaign-id>",
		Short: "Bulk-create jobs for a campaign",
		Long: `Bulk-create one job per address for a campaign.

Addresses come from --file (one per line) or --generate N, which
fabricates N synthetic addresses for load testing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("campaign id: %w", err)
			}

			var emails []string
			switch {
			case file != "":
				emails, err = readAddressFile(file)
				if err != nil {
					return err
				}
			case generate > 0:
				emails = make([]string, generate)
				for i := range emails {
					emails[i] = fmt.Sprintf("customer-%06d@example.com", i)
				}
			default:
				return fmt.Errorf("one of --file or --generate is required")
			}

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := queue.CreateCampaignJobs(cmd.Context(), pool,
				campaignID, emails, cfg.MaxRetries)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %d jobs for campaign %s\n", n, campaignID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with one address per line")
	cmd.Flags().IntVar(&generate, "generate", 0, "generate N synthetic addresses")
	return cmd
}

func readAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address file: %w", err)
	}
	defer f.Close()

	var emails []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read address file: %w", err)
	}
	return emails, nil
}
