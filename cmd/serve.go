package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/nbx/internal/jobs"
	"github.com/desertthunder/nbx/internal/repositories"
	"github.com/desertthunder/nbx/internal/server"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/urfave/cli/v3"
)

// newManager builds a job manager recording history to repo.
func (r *Runner) newManager(repo *repositories.HistoryRepository) (*jobs.Manager, error) {
	snapshot, materialize, err := r.engines()
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(jobs.NewEngineRunner(snapshot, materialize, r.logger), jobs.Options{
		Limits:    jobs.LimitsFromConfig(r.config.Jobs),
		Retention: r.config.Jobs.Retention(),
		History:   repo,
		Logger:    r.logger,
	}), nil
}

// Serve runs the HTTP service until interrupted. The scheduler starts when
// schedule page ids are configured.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(r.config.Storage.DumpRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create dump root: %w", err)
	}

	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	manager, err := r.newManager(history)
	if err != nil {
		return err
	}
	defer manager.Close()

	if !cmd.Bool("no-schedule") {
		scheduler, err := jobs.NewScheduler(manager, r.config.Schedule, r.logger)
		if err != nil {
			return err
		}
		if scheduler.Enabled() {
			scheduler.Start(ctx)
			defer scheduler.Stop()
		} else {
			r.logger.Info("no schedule targets configured, scheduler not started")
		}
	}

	cfg := r.config.Server
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Port = int(port)
	}

	srv := server.New(server.Options{
		Address:  cfg.Address(),
		Jobs:     manager,
		History:  history,
		DumpRoot: r.config.Storage.DumpRoot,
		Logger:   shared.WithLogger(r.logger, "component", "http"),
	})
	return srv.ListenAndServe(ctx)
}
