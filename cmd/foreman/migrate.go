package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending schema migrations and exit.

Migrations also run automatically on every command that opens the database;
this command exists for deploy pipelines that migrate before rollout.

Examples:
  foreman migrate
  FOREMAN_DATABASE_URL=postgres://... foreman migrate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info().Msg("migrations up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
