package metrics

import (
	"context"
	"errors"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Backfill outcome statuses.
const (
	BackfillSucceeded = "succeeded"
	BackfillFailed    = "failed"
	BackfillPartial   = "partial"
)

// BackfillRequest drives repeated materializer runs until the log is
// drained.
type BackfillRequest struct {
	ProjectID string
	Mode      types.MetricsMode

	// Prefix seeds the derived per-run idempotency keys, so re-running the
	// same backfill is idempotent.
	Prefix string

	// MaxRuns caps the number of runs; zero means unbounded.
	MaxRuns int

	// ReplayFromEventID, when positive, resets counters before the first
	// run and replays from that id.
	ReplayFromEventID int64
}

// BackfillResult reports how a backfill terminated.
type BackfillResult struct {
	Status      string              `json:"status"`
	Runs        []*types.MetricsRun `json:"runs"`
	FailedRunID string              `json:"failed_run_id,omitempty"`
}

// Backfill repeatedly invokes Run with derived keys, terminating on a run
// that processed zero events (succeeded), a failed run (failed), or the run
// cap (partial).
func (m *Materializer) Backfill(ctx context.Context, req BackfillRequest) (*BackfillResult, error) {
	if req.Prefix == "" {
		return nil, apperr.New(apperr.InvalidState, "backfill prefix is required")
	}
	result := &BackfillResult{Runs: []*types.MetricsRun{}}
	replayFrom := req.ReplayFromEventID

	for i := 0; req.MaxRuns == 0 || i < req.MaxRuns; i++ {
		start, err := m.nextStartEventID(ctx, req.ProjectID, req.Mode, replayFrom)
		if err != nil {
			return nil, err
		}
		run, err := m.Run(ctx, RunRequest{
			ProjectID:         req.ProjectID,
			Mode:              req.Mode,
			IdempotencyKey:    DeriveKey(req.Prefix, req.Mode, start),
			ReplayFromEventID: replayFrom,
		})
		if err != nil {
			return nil, err
		}
		replayFrom = 0
		result.Runs = append(result.Runs, run)

		if run.Status == types.RunFailed {
			result.Status = BackfillFailed
			result.FailedRunID = run.ID
			return result, nil
		}
		if run.ProcessedEvents == 0 {
			result.Status = BackfillSucceeded
			return result, nil
		}
	}
	result.Status = BackfillPartial
	return result, nil
}

// Recover resumes after a failed run. The failed run never advanced the
// checkpoint, so a fresh backfill from the checkpoint picks up at the failed
// run's start event with the counters intact.
func (m *Materializer) Recover(ctx context.Context, failedRunID string, maxRuns int) (*BackfillResult, error) {
	failed, err := m.store.GetRun(ctx, failedRunID)
	if err != nil {
		return nil, m.fail(notFoundAsRun(err))
	}
	if failed.Status != types.RunFailed {
		return nil, apperr.Newf(apperr.InvalidState, "run %s did not fail", failedRunID)
	}
	return m.Backfill(ctx, BackfillRequest{
		ProjectID: failed.ProjectID,
		Mode:      failed.Mode,
		Prefix:    "recover-" + failedRunID,
		MaxRuns:   maxRuns,
	})
}

func notFoundAsRun(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.RunNotFound, "metrics run not found")
	}
	return err
}

// nextStartEventID resolves where the next run will start, for key
// derivation.
func (m *Materializer) nextStartEventID(ctx context.Context, projectID string, mode types.MetricsMode, replayFrom int64) (int64, error) {
	if replayFrom > 0 {
		return replayFrom, nil
	}
	cp, err := m.store.GetCheckpoint(ctx, projectID, mode)
	if err != nil {
		return 0, m.fail(err)
	}
	if cp == nil {
		return 1, nil
	}
	return cp.LastEventID + 1, nil
}
