package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/repositories"
	"github.com/desertthunder/nbx/internal/shared"
)

// HistoryStore is the job history query surface.
type HistoryStore interface {
	Recent(ctx context.Context, days int) ([]models.DayHistory, error)
	ByDate(ctx context.Context, date string) ([]models.HistoryEntry, error)
	Range(ctx context.Context, start, end string, filter models.HistoryFilter) ([]models.DayHistory, error)
	Statistics(ctx context.Context, days int) (*models.Statistics, error)
	AvailableDates(ctx context.Context) ([]string, error)
}

// HistoryHandler serves persisted job history.
type HistoryHandler struct {
	store HistoryStore
}

// NewHistoryHandler creates a [HistoryHandler].
func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/jobs/history", h.recent},
		{http.MethodGet, "/jobs/history/dates", h.dates},
		{http.MethodGet, "/jobs/history/{date}", h.byDate},
		{http.MethodGet, "/jobs/statistics", h.statistics},
	}
}

// recent returns the last N days, or a filtered range when start and end are given.
// format=csv|markdown|text renders an export instead of JSON.
func (h *HistoryHandler) recent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		days []models.DayHistory
		err  error
		resp = map[string]any{}
	)

	if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
		if start == "" || end == "" {
			writeErr(w, fmt.Errorf("%w: start and end", shared.ErrMissingArgument))
			return
		}
		filter := models.HistoryFilter{JobType: models.JobType(q.Get("type")), Status: models.JobStatus(q.Get("status"))}
		if err := validateRange(start, end, filter); err != nil {
			writeErr(w, err)
			return
		}
		days, err = h.store.Range(r.Context(), start, end, filter)
		resp["start"], resp["end"] = start, end
		resp["type"], resp["status"] = filter.JobType, filter.Status
	} else {
		n, perr := intQuery(r, "days", 7, 1, 365)
		if perr != nil {
			writeErr(w, perr)
			return
		}
		days, err = h.store.Recent(r.Context(), n)
		resp["days"] = n
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	if format := q.Get("format"); format != "" && format != formatter.FormatJSON {
		h.export(w, days, format)
		return
	}
	resp["history"] = days
	writeJSON(w, http.StatusOK, resp)
}

func (h *HistoryHandler) export(w http.ResponseWriter, days []models.DayHistory, format string) {
	data, err := formatter.ExportHistory(days, format)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
		return
	}
	switch format {
	case formatter.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	case formatter.FormatMarkdown, "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *HistoryHandler) dates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.store.AvailableDates(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

func (h *HistoryHandler) byDate(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	entries, err := h.store.ByDate(r.Context(), date)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "jobs": entries})
}

func (h *HistoryHandler) statistics(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 30, 1, 365)
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := h.store.Statistics(r.Context(), days)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "statistics": stats})
}

func validateRange(start, end string, f models.HistoryFilter) error {
	from, err := repositories.ParseDate(start)
	if err != nil {
		return err
	}
	to, err := repositories.ParseDate(end)
	if err != nil {
		return err
	}
	if to.Before(from) {
		return fmt.Errorf("%w: start must not be after end", shared.ErrInvalidArgument)
	}

	if f.JobType != "" {
		known := false
		for _, t := range models.JobTypes {
			known = known || t == f.JobType
		}
		if !known {
			return fmt.Errorf("%w: unknown job type %q", shared.ErrInvalidArgument, f.JobType)
		}
	}
	switch f.Status {
	case "", models.StatusQueued, models.StatusRunning, models.StatusDone, models.StatusError, models.StatusCanceled:
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, f.Status)
}
