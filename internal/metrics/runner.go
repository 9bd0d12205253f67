package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Runner invokes the materializer on the configured cadences: a batch pass
// every MetricsBatchCadence and a near-real-time pass every
// MetricsNRTCadence, each over every project. Run keys derive from the
// checkpoint position, so a tick with no new events is a stored no-op.
type Runner struct {
	mat          *Materializer
	batchCadence time.Duration
	nrtCadence   time.Duration
	log          zerolog.Logger
}

// NewRunner creates a cadence runner.
func NewRunner(mat *Materializer, cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{
		mat:          mat,
		batchCadence: cfg.MetricsBatchCadence,
		nrtCadence:   cfg.MetricsNRTCadence,
		log:          log,
	}
}

// Run ticks both cadences until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	batch := time.NewTicker(r.batchCadence)
	defer batch.Stop()
	nrt := time.NewTicker(r.nrtCadence)
	defer nrt.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-batch.C:
			r.tick(ctx, types.ModeBatch)
		case <-nrt.C:
			r.tick(ctx, types.ModeNearRealTime)
		}
	}
}

func (r *Runner) tick(ctx context.Context, mode types.MetricsMode) {
	projects, err := r.mat.store.ListProjects(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list projects for metrics tick")
		return
	}
	for _, project := range projects {
		start, err := r.mat.nextStartEventID(ctx, project.ID, mode, 0)
		if err != nil {
			r.log.Error().Err(err).Str("project_id", project.ID).Msg("failed to resolve metrics cursor")
			continue
		}
		run, err := r.mat.Run(ctx, RunRequest{
			ProjectID:      project.ID,
			Mode:           mode,
			IdempotencyKey: DeriveKey("auto", mode, start),
		})
		if err != nil {
			r.log.Error().Err(err).Str("project_id", project.ID).Msg("metrics run failed")
			continue
		}
		if run.ProcessedEvents > 0 {
			r.log.Debug().
				Str("project_id", project.ID).
				Str("mode", string(mode)).
				Int("processed", run.ProcessedEvents).
				Msg("materialized events")
		}
	}
}
