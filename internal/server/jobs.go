package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/jobs"
	"github.com/desertthunder/nbx/internal/models"
)

// DefaultPing is the keep-alive interval of the job stream.
const DefaultPing = 15 * time.Second

// JobService is the orchestrator surface used by the HTTP handlers.
type JobService interface {
	EnqueueDump(pageID string) (models.Job, error)
	EnqueueDumpDatabase(databaseID string) (models.Job, error)
	EnqueueMigrate(dumpName, targetID string) (models.Job, error)
	Cancel(id string) bool
	Remove(id string) bool
	Get(id string) (models.Job, bool)
	ListJobs() []models.Job
	Subscribe() *jobs.Subscription
	Unsubscribe(s *jobs.Subscription)
}

// JobsHandler serves job submission, control and the live event stream.
type JobsHandler struct {
	jobs   JobService
	logger *log.Logger
	ping   time.Duration
}

// NewJobsHandler creates a [JobsHandler]. A zero ping uses [DefaultPing].
func NewJobsHandler(svc JobService, logger *log.Logger, ping time.Duration) *JobsHandler {
	if ping <= 0 {
		ping = DefaultPing
	}
	return &JobsHandler{jobs: svc, logger: logger, ping: ping}
}

func (h *JobsHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/jobs", h.list},
		{http.MethodPost, "/jobs/dump", h.dump},
		{http.MethodPost, "/jobs/dump_database", h.dumpDatabase},
		{http.MethodPost, "/jobs/migrate", h.migrate},
		{http.MethodPost, "/jobs/{id}/cancel", h.cancel},
		{http.MethodPost, "/jobs/{id}/remove", h.remove},
		{http.MethodGet, "/jobs/stream", h.stream},
	}
}

func (h *JobsHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.jobs.ListJobs()})
}

func (h *JobsHandler) dump(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, []string{models.ParamPageID}, func(b map[string]string) (models.Job, error) {
		return h.jobs.EnqueueDump(b[models.ParamPageID])
	})
}

func (h *JobsHandler) dumpDatabase(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, []string{models.ParamDatabaseID}, func(b map[string]string) (models.Job, error) {
		return h.jobs.EnqueueDumpDatabase(b[models.ParamDatabaseID])
	})
}

func (h *JobsHandler) migrate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, []string{models.ParamDumpName, models.ParamTargetPageID}, func(b map[string]string) (models.Job, error) {
		return h.jobs.EnqueueMigrate(b[models.ParamDumpName], b[models.ParamTargetPageID])
	})
}

func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request, keys []string, enqueue func(map[string]string) (models.Job, error)) {
	body, err := decodeBody(r)
	if err == nil {
		err = required(body, keys...)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	job, err := enqueue(body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

func (h *JobsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if !h.jobs.Cancel(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *JobsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.jobs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !h.jobs.Remove(id) {
		writeError(w, http.StatusConflict, "job is not finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// stream writes every orchestrator event as an SSE data frame, pinging while idle.
func (h *JobsHandler) stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("job stream cannot flush", "err", err)
		return
	}

	sub := h.jobs.Subscribe()
	defer h.jobs.Unsubscribe(sub)

	ctx := r.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.ping)
		ev, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			data, merr := json.Marshal(ev)
			if merr != nil {
				h.logger.Error("failed to encode job event", "err", merr)
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, err := w.Write([]byte("event: ping\ndata: {}\n\n")); err != nil {
				return
			}
		default:
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
