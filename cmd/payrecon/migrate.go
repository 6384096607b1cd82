package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/payrecon/internal/config"
	"github.com/mihaimyh/payrecon/storage/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the database schema",
		Long: `Apply the embedded migrations to DATABASE_URL.

Examples:
  payrecon migrate up
  payrecon migrate down`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE:      runMigrate,
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dir := postgres.Direction(args[0])
	if dir != postgres.Up && dir != postgres.Down {
		return fmt.Errorf("unknown direction %q: want up or down", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if err := postgres.Migrate(cfg.DatabaseURL, dir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: done\n", dir)
	return nil
}
