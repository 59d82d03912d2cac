package jobs

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
)

// EngineRunner dispatches jobs to the snapshot and materialization engines.
type EngineRunner struct {
	Snapshot    *tasks.SnapshotEngine
	Materialize *tasks.MaterializeEngine
	Logger      *log.Logger
}

// NewEngineRunner creates an [EngineRunner].
func NewEngineRunner(snapshot *tasks.SnapshotEngine, materialize *tasks.MaterializeEngine, logger *log.Logger) *EngineRunner {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &EngineRunner{Snapshot: snapshot, Materialize: materialize, Logger: logger}
}

// Run performs job. Captures return their directory; migrations return no path.
func (r *EngineRunner) Run(ctx context.Context, job models.Job, progress chan<- tasks.ProgressUpdate, canceled func() bool) (string, error) {
	opts := tasks.RunOpts{Progress: progress, Canceled: canceled}

	switch job.Type {
	case models.JobDump:
		return r.Snapshot.Capture(ctx, job.Params[models.ParamPageID], opts)
	case models.JobDumpDatabase:
		return r.Snapshot.CaptureDatabase(ctx, job.Params[models.ParamDatabaseID], opts)
	case models.JobMigrate:
		result, err := r.Materialize.MaterializeCapture(ctx, r.Snapshot.DumpRoot(),
			job.Params[models.ParamDumpName], job.Params[models.ParamTargetPageID], opts)
		if err != nil {
			return "", err
		}
		r.Logger.Info("migration finished", "job", job.ID,
			"processed", result.Processed,
			"failed", result.FailedItems,
			"placeholders", result.Placeholders,
			"fallbacks", result.Fallbacks)
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown job type %q", shared.ErrInvalidArgument, job.Type)
	}
}
