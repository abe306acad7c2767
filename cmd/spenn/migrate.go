package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/transfa/spenn-service/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := store.EnsureSchema(ctx, rt.db); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			rt.logger.Info("database schema is up to date")
			return nil
		},
	}
}
