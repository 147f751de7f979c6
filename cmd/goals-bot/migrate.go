package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"goals-telegram/internal/storage"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema up to date", "dialect", db.Dialect())
			return nil
		},
	}
}
