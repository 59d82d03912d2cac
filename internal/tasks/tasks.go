// package tasks implements workspace capture and materialization.
//
// The core abstractions are [SnapshotEngine], which walks a remote tree into a local capture
// directory, and [MaterializeEngine], which rebuilds a capture under a new remote parent.
// Operations emit progress updates via channels for non-blocking status reporting to the
// orchestrator, CLI and UI layers.
package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/nbx/internal/shared"
)

// RunOpts carries the per-run reporting and cancellation hooks shared by all engine operations.
type RunOpts struct {
	// Progress receives updates without blocking; a full channel drops the update.
	Progress chan<- ProgressUpdate

	// Canceled is polled at every pagination round, batch and container.
	Canceled func() bool
}

// sendProgress sends a progress update through the channel without blocking.
func (o RunOpts) sendProgress(update ProgressUpdate) {
	if o.Progress == nil {
		return
	}
	select {
	case o.Progress <- update:
	default:
	}
}

// checkpoint returns [shared.ErrCanceled] once cancellation was requested or ctx is done.
func (o RunOpts) checkpoint(ctx context.Context) error {
	if o.Canceled != nil && o.Canceled() {
		return shared.ErrCanceled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCanceled, err)
	}
	return nil
}
