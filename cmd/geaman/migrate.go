package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/storage/migrations"
)

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.Postgres_DSN
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			return migrations.Up(dsn, logger)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $POSTGRES_DSN)")
	return cmd
}
