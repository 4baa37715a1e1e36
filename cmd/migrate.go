package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/infra/adapters/postgres"
	"github.com/qrave1/LiveClass/internal/infra/adapters/postgres/migrations"
)

var migrateCmd = &cobra.Command{
	Use:          "migrate <command> [args]",
	Short:        "Manage the chat transcript schema (goose commands: up, down, status, ...)",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if !cfg.Transcript.Enabled {
			slog.Warn("TRANSCRIPT_ENABLED is off: the client keeps the transcript in memory and will not use this schema")
		}

		db, err := postgres.NewPostgres(cmd.Context(), cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		if err = migrations.Run(cmd.Context(), db.DB, args[0], args[1:]...); err != nil {
			return err
		}

		slog.Info("transcript schema migrated", slog.String("command", args[0]))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
