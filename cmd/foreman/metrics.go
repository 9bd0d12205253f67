package main

import (
	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/metrics"
	"github.com/ceruleanworks/foreman/internal/types"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Drive and inspect the metrics materializer",
}

var (
	metricsMode   string
	metricsKey    string
	metricsReplay int64
)

var metricsRunCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Run one materializer pass",
	Long: `Run one materializer pass for a project. Re-running with the same
--key returns the stored run verbatim without side effects. --replay-from
resets the project's counters and replays from that event id.

Examples:
  foreman metrics run prj-1 --key nightly-2026-08-24
  foreman metrics run prj-1 --key rebuild-1 --replay-from 1 --mode batch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		mat := metrics.New(store, cfg, idgen.RealClock{}, logger)
		run, err := mat.Run(cmd.Context(), metrics.RunRequest{
			ProjectID:         args[0],
			Mode:              types.MetricsMode(metricsMode),
			IdempotencyKey:    metricsKey,
			ReplayFromEventID: metricsReplay,
		})
		if err != nil {
			return err
		}
		return printResult(run)
	},
}

var (
	backfillPrefix  string
	backfillMaxRuns int
)

var metricsBackfillCmd = &cobra.Command{
	Use:   "backfill <project-id>",
	Short: "Drain the event log in repeated runs",
	Long: `Run the materializer repeatedly until the log is drained, a run
fails, or --max-runs is hit. Per-run keys derive from the prefix and the
checkpoint position, so re-running the same backfill is idempotent.

Examples:
  foreman metrics backfill prj-1 --prefix rebuild-2026-08
  foreman metrics backfill prj-1 --prefix rebuild-2026-08 --replay-from 1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		mat := metrics.New(store, cfg, idgen.RealClock{}, logger)
		result, err := mat.Backfill(cmd.Context(), metrics.BackfillRequest{
			ProjectID:         args[0],
			Mode:              types.MetricsMode(metricsMode),
			Prefix:            backfillPrefix,
			MaxRuns:           backfillMaxRuns,
			ReplayFromEventID: metricsReplay,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var metricsRecoverCmd = &cobra.Command{
	Use:   "recover <failed-run-id>",
	Short: "Resume after a failed run",
	Long: `Resume materialization after a failed run. The failed run never
advanced the checkpoint, so recovery picks up at its start event with the
counters intact.

Examples:
  foreman metrics recover 7c2f... --max-runs 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		mat := metrics.New(store, cfg, idgen.RealClock{}, logger)
		result, err := mat.Recover(cmd.Context(), args[0], backfillMaxRuns)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var metricsShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show the derived per-state transition counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		mat := metrics.New(store, cfg, idgen.RealClock{}, logger)
		counters, err := mat.Counters(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(counters)
	},
}

func init() {
	for _, c := range []*cobra.Command{metricsRunCmd, metricsBackfillCmd} {
		c.Flags().StringVar(&metricsMode, "mode", string(types.ModeBatch), "Materializer mode (batch|near_real_time)")
		c.Flags().Int64Var(&metricsReplay, "replay-from", 0, "Reset counters and replay from this event id")
	}
	metricsRunCmd.Flags().StringVar(&metricsKey, "key", "", "Idempotency key (required)")
	_ = metricsRunCmd.MarkFlagRequired("key")
	metricsBackfillCmd.Flags().StringVar(&backfillPrefix, "prefix", "", "Idempotency key prefix (required)")
	_ = metricsBackfillCmd.MarkFlagRequired("prefix")
	metricsBackfillCmd.Flags().IntVar(&backfillMaxRuns, "max-runs", 0, "Run cap (0 = unbounded)")
	metricsRecoverCmd.Flags().IntVar(&backfillMaxRuns, "max-runs", 0, "Run cap (0 = unbounded)")

	metricsCmd.AddCommand(metricsRunCmd)
	metricsCmd.AddCommand(metricsBackfillCmd)
	metricsCmd.AddCommand(metricsRecoverCmd)
	metricsCmd.AddCommand(metricsShowCmd)
	rootCmd.AddCommand(metricsCmd)
}
