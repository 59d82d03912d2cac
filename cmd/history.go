package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/repositories"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/urfave/cli/v3"
)

// openHistory opens the history database and returns its repository with a close func.
func (r *Runner) openHistory(ctx context.Context) (*repositories.HistoryRepository, func(), error) {
	db, err := shared.OpenDatabase(ctx, r.config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return repositories.NewHistoryRepository(db), func() { db.Close() }, nil
}

// JobsHistory prints history for recent days, one day, or a filtered range.
func (r *Runner) JobsHistory(ctx context.Context, cmd *cli.Command) error {
	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	var days []models.DayHistory
	start, end := cmd.String("start"), cmd.String("end")
	switch {
	case cmd.String("date") != "":
		date := cmd.String("date")
		entries, err := history.ByDate(ctx, date)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			days = []models.DayHistory{{Date: date, Jobs: entries}}
		}
	case start != "" || end != "":
		if start == "" || end == "" {
			return fmt.Errorf("%w: --start and --end must be used together", shared.ErrMissingArgument)
		}
		filter := models.HistoryFilter{
			JobType: models.JobType(cmd.String("type")),
			Status:  models.JobStatus(cmd.String("status")),
		}
		if days, err = history.Range(ctx, start, end, filter); err != nil {
			return err
		}
	default:
		if days, err = history.Recent(ctx, int(cmd.Int("days"))); err != nil {
			return err
		}
	}

	out, err := formatter.ExportHistory(days, cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return r.writeBytes(out)
}

// JobsStats prints statistics for the last --days days.
func (r *Runner) JobsStats(ctx context.Context, cmd *cli.Command) error {
	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	days := int(cmd.Int("days"))
	if days < 1 || days > 365 {
		return fmt.Errorf("%w: --days must be between 1 and 365", shared.ErrInvalidArgument)
	}
	stats, err := history.Statistics(ctx, days)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}
	return r.writeBytes(formatter.StatisticsToText(stats))
}

// JobsDates lists the days that have history, newest first.
func (r *Runner) JobsDates(ctx context.Context, cmd *cli.Command) error {
	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	dates, err := history.AvailableDates(ctx)
	if err != nil {
		return err
	}
	for _, d := range dates {
		r.writePlain("%s\n", d)
	}
	return nil
}

// JobsCleanup deletes history older than --keep-days.
func (r *Runner) JobsCleanup(ctx context.Context, cmd *cli.Command) error {
	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	keep := int(cmd.Int("keep-days"))
	if keep < 0 {
		return fmt.Errorf("%w: --keep-days must not be negative", shared.ErrInvalidArgument)
	}
	removed, err := history.Cleanup(ctx, keep)
	if err != nil {
		return err
	}
	r.logger.Info("history cleaned up", "removed", removed, "keep_days", keep)
	return r.writePlain("✓ Removed %d history entries\n", removed)
}
