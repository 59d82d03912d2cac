package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/robfig/cron/v3"
)

// ScheduleRequest asks for a dump of each page in PageIDs.
type ScheduleRequest struct {
	PageIDs []string
}

// DumpEnqueuer queues page dumps. [Manager] implements it.
type DumpEnqueuer interface {
	EnqueueDump(pageID string) (models.Job, error)
}

// Scheduler fires [ScheduleRequest]s on a cron schedule. A single consumer turns
// requests into dump jobs.
type Scheduler struct {
	cron     *cron.Cron
	requests chan ScheduleRequest
	target   DumpEnqueuer
	pageIDs  []string
	spec     string
	logger   *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler parses the standard five-field expression in cfg.Cron. The
// scheduler is disabled when cfg lists no pages.
func NewScheduler(target DumpEnqueuer, cfg shared.ScheduleConfig, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = shared.WithLogger(logger, "component", "scheduler")

	s := &Scheduler{
		requests: make(chan ScheduleRequest, 1),
		target:   target,
		pageIDs:  append([]string(nil), cfg.PageIDs...),
		spec:     cfg.Cron,
		logger:   logger,
	}
	if !s.Enabled() {
		return s, nil
	}

	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", shared.ErrInvalidConfig, cfg.Cron, err)
	}
	s.cron = cron.New(cron.WithLocation(cfg.Location()), cron.WithLogger(cronLogger{logger}))
	s.cron.Schedule(schedule, cron.FuncJob(s.Trigger))
	return s, nil
}

// Enabled reports whether any pages are scheduled.
func (s *Scheduler) Enabled() bool { return len(s.pageIDs) > 0 }

// Requests exposes the inbound request channel.
func (s *Scheduler) Requests() <-chan ScheduleRequest { return s.requests }

// Trigger queues a request for every scheduled page. A request still waiting
// for the consumer absorbs the new one.
func (s *Scheduler) Trigger() {
	req := ScheduleRequest{PageIDs: append([]string(nil), s.pageIDs...)}
	select {
	case s.requests <- req:
	default:
		s.logger.Warn("previous scheduled run still pending, skipping")
	}
}

// Start runs the cron clock and the consumer until ctx is done or [Scheduler.Stop] is called.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("no pages scheduled, scheduler disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.consume(ctx, s.done)
	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.spec, "pages", len(s.pageIDs))
}

// Stop halts the clock and waits for the consumer to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	<-s.cron.Stop().Done()
	cancel()
	<-done
}

func (s *Scheduler) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			s.handle(req)
		}
	}
}

func (s *Scheduler) handle(req ScheduleRequest) {
	for _, id := range req.PageIDs {
		job, err := s.target.EnqueueDump(id)
		switch {
		case errors.Is(err, shared.ErrCapacityExceeded):
			s.logger.Warn("scheduled dump skipped, at capacity", "page", id)
		case err != nil:
			s.logger.Error("scheduled dump failed", "page", id, "err", err)
		default:
			s.logger.Info("scheduled dump queued", "page", id, "job", job.ID)
		}
	}
}

// cronLogger adapts [log.Logger] to the cron logging interface.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
