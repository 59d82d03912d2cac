package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/desertthunder/nbx/internal/models"
)

const historyColumns = `job_id, job_type, status, created_at, started_at, completed_at, progress, message,
	page_id, database_id, dump_name, target_page_id, error`

// HistoryRepository persists job history in the job_history table.
type HistoryRepository struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// NewHistoryRepository creates a [HistoryRepository]. Days are computed in [time.Local].
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, loc: time.Local, now: time.Now}
}

// WithClock overrides the location and clock used to compute days.
func (r *HistoryRepository) WithClock(loc *time.Location, now func() time.Time) *HistoryRepository {
	r.loc, r.now = loc, now
	return r
}

func (r *HistoryRepository) day(t time.Time) string {
	return t.In(r.loc).Format(DateLayout)
}

func (r *HistoryRepository) today() time.Time {
	return r.now().In(r.loc)
}

// Record applies ev. A start event inserts the row; any other event patches the
// fields it carries. The first transition to running sets started_at and a
// terminal transition sets completed_at.
func (r *HistoryRepository) Record(ctx context.Context, ev models.HistoryEvent) error {
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}

	if ev.Start {
		return r.insert(ctx, ev, at)
	}

	var sets []string
	var args []any

	if ev.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(ev.Status))
		switch {
		case ev.Status == models.StatusRunning:
			sets = append(sets, "started_at = COALESCE(started_at, ?)")
			args = append(args, at.UTC())
		case ev.Status.Terminal():
			sets = append(sets, "completed_at = ?")
			args = append(args, at.UTC())
		}
	}
	if ev.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *ev.Progress)
	}
	if ev.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *ev.Message)
	}
	if ev.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *ev.Error)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE job_history SET " + strings.Join(sets, ", ") + " WHERE job_id = ?"
	args = append(args, ev.JobID)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job history: %w", err)
	}
	return affected(result, ev.JobID)
}

func (r *HistoryRepository) insert(ctx context.Context, ev models.HistoryEvent, at time.Time) error {
	status := ev.Status
	if status == "" {
		status = models.StatusQueued
	}
	message := ""
	if ev.Message != nil {
		message = *ev.Message
	}

	query := `
		INSERT OR IGNORE INTO job_history (job_id, job_type, status, day, created_at, message,
			page_id, database_id, dump_name, target_page_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.JobID,
		string(ev.JobType),
		string(status),
		r.day(at),
		at.UTC(),
		message,
		nullString(ev.Params[models.ParamPageID]),
		nullString(ev.Params[models.ParamDatabaseID]),
		nullString(ev.Params[models.ParamDumpName]),
		nullString(ev.Params[models.ParamTargetPageID]),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job history: %w", err)
	}
	return nil
}

// Get returns the entry of one job.
func (r *HistoryRepository) Get(ctx context.Context, jobID string) (*models.HistoryEntry, error) {
	entries, err := r.query(ctx, "SELECT "+historyColumns+" FROM job_history WHERE job_id = ?", jobID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("job history not found: %s", jobID)
	}
	return &entries[0], nil
}

// ByDate returns the jobs created on date (YYYY-MM-DD) in creation order.
func (r *HistoryRepository) ByDate(ctx context.Context, date string) ([]models.HistoryEntry, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	return r.query(ctx, "SELECT "+historyColumns+" FROM job_history WHERE day = ? ORDER BY created_at ASC, rowid ASC", date)
}

// Recent returns the last days days, today included, newest day first. Days
// without jobs are omitted.
func (r *HistoryRepository) Recent(ctx context.Context, days int) ([]models.DayHistory, error) {
	if days <= 0 {
		return []models.DayHistory{}, nil
	}
	cutoff := r.today().AddDate(0, 0, -(days - 1)).Format(DateLayout)

	query := "SELECT day, " + historyColumns + " FROM job_history WHERE day >= ? ORDER BY day DESC, created_at ASC, rowid ASC"
	return r.queryDays(ctx, query, cutoff)
}

// Range returns the days from start to end inclusive, oldest first, keeping
// only jobs matching filter. Days without matching jobs are omitted.
func (r *HistoryRepository) Range(ctx context.Context, start, end string, filter models.HistoryFilter) ([]models.DayHistory, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return []models.DayHistory{}, nil
	}

	query := "SELECT day, " + historyColumns + " FROM job_history WHERE day BETWEEN ? AND ?"
	args := []any{start, end}
	if filter.JobType != "" {
		query += " AND job_type = ?"
		args = append(args, string(filter.JobType))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY day ASC, created_at ASC, rowid ASC"

	return r.queryDays(ctx, query, args...)
}

// Statistics summarizes the last days days. The success rate is the share of
// done jobs in percent and the average duration covers jobs that both started
// and completed; both are rounded to one decimal.
func (r *HistoryRepository) Statistics(ctx context.Context, days int) (*models.Statistics, error) {
	history, err := r.Recent(ctx, days)
	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{
		PeriodDays:  days,
		ByType:      map[string]int{},
		ByStatus:    map[string]int{},
		DailyCounts: map[string]int{},
	}
	for _, t := range models.JobTypes {
		stats.ByType[string(t)] = 0
	}
	for _, s := range []models.JobStatus{models.StatusDone, models.StatusError, models.StatusCanceled} {
		stats.ByStatus[string(s)] = 0
	}

	var total time.Duration
	timed := 0
	for _, day := range history {
		stats.DailyCounts[day.Date] = len(day.Jobs)
		stats.TotalJobs += len(day.Jobs)
		for _, job := range day.Jobs {
			stats.ByType[string(job.JobType)]++
			stats.ByStatus[string(job.Status)]++
			if d, ok := job.Duration(); ok {
				total += d
				timed++
			}
		}
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = round1(float64(stats.ByStatus[string(models.StatusDone)]) / float64(stats.TotalJobs) * 100)
	}
	if timed > 0 {
		stats.AverageDuration = round1(total.Seconds() / float64(timed))
	}
	return stats, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// AvailableDates lists the days that have jobs, newest first.
func (r *HistoryRepository) AvailableDates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT day FROM job_history ORDER BY day DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query history dates: %w", err)
	}
	defer rows.Close()

	dates := []string{}
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan history date: %w", err)
		}
		dates = append(dates, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return dates, nil
}

// Cleanup deletes the jobs of days older than keepDays days and returns the number removed.
func (r *HistoryRepository) Cleanup(ctx context.Context, keepDays int) (int64, error) {
	cutoff := r.today().AddDate(0, 0, -keepDays).Format(DateLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM job_history WHERE day < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up job history: %w", err)
	}
	return result.RowsAffected()
}

func (r *HistoryRepository) query(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// queryDays runs a query whose first column is the day and groups rows by it,
// keeping the query's order.
func (r *HistoryRepository) queryDays(ctx context.Context, query string, args ...any) ([]models.DayHistory, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	out := []models.DayHistory{}
	for rows.Next() {
		var day string
		entry, err := scanEntry(rows, &day)
		if err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Date != day {
			out = append(out, models.DayHistory{Date: day})
		}
		out[len(out)-1].Jobs = append(out[len(out)-1].Jobs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// scanEntry scans one row of historyColumns, preceded by the columns in lead.
func scanEntry(rows *sql.Rows, lead ...any) (*models.HistoryEntry, error) {
	var (
		e            models.HistoryEntry
		jobType      string
		status       string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		pageID       sql.NullString
		databaseID   sql.NullString
		dumpName     sql.NullString
		targetPageID sql.NullString
		errText      sql.NullString
	)

	dest := append(lead,
		&e.JobID, &jobType, &status, &e.CreatedAt, &startedAt, &completedAt, &e.Progress, &e.Message,
		&pageID, &databaseID, &dumpName, &targetPageID, &errText)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan job history: %w", err)
	}

	e.JobType = models.JobType(jobType)
	e.Status = models.JobStatus(status)
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	e.PageID = pageID.String
	e.DatabaseID = databaseID.String
	e.DumpName = dumpName.String
	e.TargetPageID = targetPageID.String
	e.Error = errText.String
	return &e, nil
}
