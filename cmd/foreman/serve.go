package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background loops (sweeper and metrics materializer)",
	Long: `Run the orchestrator's background loops until interrupted:

- the expiration sweeper, which reaps lapsed leases and reservations and
  returns their tasks to ready; and
- the metrics runner, which materializes the event log on the batch and
  near-real-time cadences.

The sweeper takes a host-wide advisory file lock, so running serve on
several processes against the same database is safe.

Examples:
  foreman serve
  FOREMAN_SWEEP_INTERVAL=5s foreman serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCore(store)
	sweeper := core.NewSweeper(c, cfg.SweepInterval, sweeperLockPath(), logger)
	runner := metrics.NewRunner(metrics.New(store, cfg, idgen.RealClock{}, logger), cfg, logger)

	logger.Info().
		Dur("sweep_interval", cfg.SweepInterval).
		Dur("batch_cadence", cfg.MetricsBatchCadence).
		Dur("nrt_cadence", cfg.MetricsNRTCadence).
		Msg("starting background loops")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("sweeper stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("metrics runner stopped")
		}
	}()

	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("shut down")
	return nil
}

// sweeperLockPath places the advisory lock next to the database for the
// embedded backend, or in the temp dir for server backends.
func sweeperLockPath() string {
	if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && dir != "/" && !isURL(cfg.DatabaseURL) {
		return filepath.Join(dir, "foreman-sweeper.lock")
	}
	return filepath.Join(os.TempDir(), "foreman-sweeper.lock")
}

func isURL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i > 1 // skip windows drive letters
		}
		if s[i] == '/' || s[i] == '\\' {
			return false
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
