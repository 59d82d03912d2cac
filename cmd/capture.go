package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Dump captures a page tree in-process, printing progress as it goes.
func (r *Runner) Dump(ctx context.Context, cmd *cli.Command) error {
	pageID := cmd.StringArg("page")
	if pageID == "" {
		return fmt.Errorf("%w: page id or URL", shared.ErrMissingArgument)
	}
	snapshot, _, err := r.engines()
	if err != nil {
		return err
	}

	var path string
	err = r.withProgress(ctx, func(ctx context.Context, opts tasks.RunOpts) error {
		var err error
		path, err = snapshot.Capture(ctx, pageID, opts)
		return err
	})
	if err != nil {
		return err
	}

	manifest := &models.Manifest{}
	if err := formatter.ReadJSONFile(filepath.Join(path, formatter.ManifestFile), manifest); err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(manifest, true)
	}

	r.writePlain("\n")
	r.writePlainHeader("Capture Complete!")
	r.writePlain("Title: %s\n", manifest.Title)
	r.writePlain("Path: %s\n", path)
	r.writePlain("Nodes: %d\n", len(manifest.Nodes))
	r.writeDegraded(manifest.Degraded, manifest.FailedAssets)
	return nil
}

// DumpDatabase captures a database and its entries in-process.
func (r *Runner) DumpDatabase(ctx context.Context, cmd *cli.Command) error {
	databaseID := cmd.StringArg("database")
	if databaseID == "" {
		return fmt.Errorf("%w: database id or URL", shared.ErrMissingArgument)
	}
	snapshot, _, err := r.engines()
	if err != nil {
		return err
	}

	var path string
	err = r.withProgress(ctx, func(ctx context.Context, opts tasks.RunOpts) error {
		var err error
		path, err = snapshot.CaptureDatabase(ctx, databaseID, opts)
		return err
	})
	if err != nil {
		return err
	}

	manifest := &models.DatabaseManifest{}
	if err := formatter.ReadJSONFile(filepath.Join(path, formatter.ManifestFile), manifest); err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Database Capture Complete!")
	r.writePlain("Title: %s\n", manifest.Title)
	r.writePlain("Path: %s\n", path)
	r.writePlain("Entries: %d\n", len(manifest.Entries))
	r.writeDegraded(manifest.Degraded, manifest.FailedAssets)
	return nil
}

// Migrate materializes a capture under the target page in-process.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("dump")
	if err := tasks.ValidateDumpName(name); err != nil {
		return err
	}
	targetID, err := shared.NormalizeID(cmd.String("target"))
	if err != nil {
		return err
	}
	_, materialize, err := r.engines()
	if err != nil {
		return err
	}

	var result *tasks.MaterializeResult
	err = r.withProgress(ctx, func(ctx context.Context, opts tasks.RunOpts) error {
		var err error
		result, err = materialize.MaterializeCapture(ctx, r.config.Storage.DumpRoot, name, targetID, opts)
		return err
	})
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Migration Complete!")
	r.writePlain("Capture: %s\n", name)
	r.writePlain("Target: %s\n", targetID)
	if result.DatabaseID != "" {
		r.writePlain("Database: %s\n", result.DatabaseID)
	}
	r.writePlain("Processed: %d/%d\n", result.Processed, result.Total)
	if result.FailedItems > 0 || result.Placeholders > 0 || result.Fallbacks > 0 {
		r.writePlain("Rejected: %d, placeholders: %d, fallbacks: %d\n", result.FailedItems, result.Placeholders, result.Fallbacks)
	}
	return nil
}

// withProgress runs fn with a progress channel printed to the output and a
// cancellation flag raised by SIGINT/SIGTERM.
func (r *Runner) withProgress(ctx context.Context, fn func(context.Context, tasks.RunOpts) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressCh := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.printProgress(update)
		}
	}()

	err := fn(ctx, tasks.RunOpts{
		Progress: progressCh,
		Canceled: func() bool { return ctx.Err() != nil },
	})
	close(progressCh)
	<-done
	return err
}

func (r *Runner) printProgress(update tasks.ProgressUpdate) {
	switch update.Phase {
	case tasks.WalkTree, tasks.QueryEntries, tasks.AppendBlocks, tasks.CreateEntries:
		if update.Total > 0 {
			r.writePlain("   [%3d%%] %s (%d/%d)\n", update.Percent, update.Message, update.Step, update.Total)
			return
		}
		r.writePlain("   [%3d%%] %s\n", update.Percent, update.Message)
	case tasks.Complete:
		r.writePlain("✓ %s\n", update.Message)
	default:
		r.writePlain("• %s\n", update.Message)
	}
}

func (r *Runner) writeDegraded(degraded bool, failed []models.FailedAsset) {
	if !degraded {
		return
	}
	r.writePlain("\n%d assets failed to download:\n", len(failed))
	for _, f := range failed {
		r.writePlain("  - %s (%s)\n", f.NodeID, f.Error)
	}
}
