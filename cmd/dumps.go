package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// DumpsList lists the captures under the dump root.
func (r *Runner) DumpsList(ctx context.Context, cmd *cli.Command) error {
	dumps, err := tasks.ListDumps(r.config.Storage.DumpRoot)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(dumps, true)
	}
	if len(dumps) == 0 {
		return r.writePlain("No captures in %s\n", r.config.Storage.DumpRoot)
	}

	w := tabwriter.NewWriter(r.output, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tREADY\tMODIFIED")
	for _, d := range dumps {
		ready := "no"
		if d.Ready {
			ready = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Kind, ready, d.ModTime.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// DumpsShow prints the manifest of a capture.
func (r *Runner) DumpsShow(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: capture name", shared.ErrMissingArgument)
	}
	capture, err := tasks.LoadCapture(r.config.Storage.DumpRoot, name)
	if err != nil {
		return err
	}
	if capture.DatabaseManifest != nil {
		return r.writeJSON(capture.DatabaseManifest, true)
	}
	return r.writeJSON(capture.Manifest, true)
}

// DumpsDelete removes a capture directory.
func (r *Runner) DumpsDelete(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: capture name", shared.ErrMissingArgument)
	}
	if err := tasks.DeleteDump(r.config.Storage.DumpRoot, name); err != nil {
		return err
	}
	r.logger.Info("dump deleted", "name", name)
	return r.writePlain("✓ Deleted %s\n", name)
}
