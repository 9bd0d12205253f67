// Command foreman is the operator CLI for the task orchestrator: project and
// plan management, the agent claim protocol, gate evaluation, the metrics
// materializer, and the serve loop that hosts the background sweeper.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/storage/sqlstore"
)

var (
	cfg    *config.Config
	logger zerolog.Logger

	actorFlag string
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Multi-tenant task orchestrator for autonomous agent fleets",
	Long: `Foreman coordinates fleets of autonomous coding agents over a shared
task graph: dependency-aware ready-work scoring, fenced leases with
heartbeats, versioned plan changesets, review gates, and an event-sourced
metrics pipeline.

Configuration comes from ./foreman.yaml (or the user config directory) and
FOREMAN_* environment variables. The default backend is an embedded SQLite
database; set database-url to a postgres:// URL for a shared server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(cfg)
		return nil
	},
}

// newLogger builds the process logger: console on stderr by default, a
// size-rotated file when log-file is configured.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     30, // days
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// openStore opens the configured backend and runs pending migrations.
func openStore(cmd *cobra.Command) (*sqlstore.Store, error) {
	return sqlstore.Open(cmd.Context(), storage.Config{
		URL:          cfg.DatabaseURL,
		MigrationDir: cfg.MigrationDir,
	}, logger)
}

func newCore(store storage.Store) *core.Core {
	return core.New(store, cfg, idgen.RealClock{}, logger)
}

// printResult renders v as indented JSON on stdout. The CLI is primarily
// driven by agents and scripts, so JSON is the only output format.
func printResult(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "cli", "Actor recorded on mutations")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
