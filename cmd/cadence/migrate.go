package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/migrate"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := migrate.Run(cmd.Context(), pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations complete")
			return nil
		},
	}
}
