package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
)

const (
	DefaultLimit     = 3
	DefaultRetention = 3 * time.Second
)

// HistoryRecorder persists job state changes.
type HistoryRecorder interface {
	Record(ctx context.Context, ev models.HistoryEvent) error
}

// Runner performs the work of a job and returns the capture path, if any.
// Implementations poll canceled at every pagination round and batch.
type Runner interface {
	Run(ctx context.Context, job models.Job, progress chan<- tasks.ProgressUpdate, canceled func() bool) (string, error)
}

// Options configures a [Manager].
type Options struct {
	// Limits caps queued+running jobs per type. Missing types use [DefaultLimit].
	Limits map[models.JobType]int

	// Retention is how long terminal jobs stay listed before eviction.
	Retention time.Duration

	History HistoryRecorder
	Logger  *log.Logger

	// Launch starts a worker. Defaults to a new goroutine.
	Launch func(fn func())
	Now    func() time.Time
}

// Manager is the job orchestrator.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	seq    uint64
	closed bool

	// histMu orders history writes: it is acquired before mu is released so
	// records reach the store in the order the changes were made.
	histMu sync.Mutex

	limits    map[models.JobType]int
	retention time.Duration
	runner    Runner
	history   HistoryRecorder
	logger    *log.Logger
	launch    func(fn func())
	now       func() time.Time
	hub       *hub
	wg        sync.WaitGroup
}

type entry struct {
	job      models.Job
	seq      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	canceled atomic.Bool
	timer    *time.Timer
}

// change is a partial update of a job. Zero status and nil pointers leave fields unchanged.
type change struct {
	status   models.JobStatus
	progress *int
	message  *string
	errText  *string
}

// NewManager creates a [Manager] running jobs with runner.
func NewManager(runner Runner, opts Options) *Manager {
	limits := make(map[models.JobType]int, len(models.JobTypes))
	for _, t := range models.JobTypes {
		limits[t] = DefaultLimit
		if n, ok := opts.Limits[t]; ok && n > 0 {
			limits[t] = n
		}
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Launch == nil {
		opts.Launch = func(fn func()) { go fn() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		jobs:      make(map[string]*entry),
		limits:    limits,
		retention: opts.Retention,
		runner:    runner,
		history:   opts.History,
		logger:    opts.Logger,
		launch:    opts.Launch,
		now:       opts.Now,
		hub:       newHub(),
	}
}

// LimitsFromConfig maps the [jobs] config section onto per-type limits.
func LimitsFromConfig(cfg shared.JobsConfig) map[models.JobType]int {
	return map[models.JobType]int{
		models.JobDump:         cfg.MaxDump,
		models.JobDumpDatabase: cfg.MaxDumpDatabase,
		models.JobMigrate:      cfg.MaxMigrate,
	}
}

// EnqueueDump queues a capture of the page pageID.
func (m *Manager) EnqueueDump(pageID string) (models.Job, error) {
	id, err := shared.NormalizeID(pageID)
	if err != nil {
		return models.Job{}, err
	}
	return m.Enqueue(models.JobDump, map[string]string{models.ParamPageID: id})
}

// EnqueueDumpDatabase queues a capture of the database databaseID.
func (m *Manager) EnqueueDumpDatabase(databaseID string) (models.Job, error) {
	id, err := shared.NormalizeID(databaseID)
	if err != nil {
		return models.Job{}, err
	}
	return m.Enqueue(models.JobDumpDatabase, map[string]string{models.ParamDatabaseID: id})
}

// EnqueueMigrate queues the materialization of the capture dumpName under targetID.
func (m *Manager) EnqueueMigrate(dumpName, targetID string) (models.Job, error) {
	if err := tasks.ValidateDumpName(dumpName); err != nil {
		return models.Job{}, err
	}
	id, err := shared.NormalizeID(targetID)
	if err != nil {
		return models.Job{}, err
	}
	return m.Enqueue(models.JobMigrate, map[string]string{models.ParamDumpName: dumpName, models.ParamTargetPageID: id})
}

// Enqueue inserts a queued job and starts its worker. It fails with
// [shared.ErrCapacityExceeded] when the type already has its limit of active jobs.
func (m *Manager) Enqueue(jobType models.JobType, params map[string]string) (models.Job, error) {
	limit, ok := m.limits[jobType]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: unknown job type %q", shared.ErrInvalidArgument, jobType)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: manager is closed", shared.ErrCanceled)
	}

	active := 0
	for _, e := range m.jobs {
		if e.job.Type == jobType && e.job.Status.Active() {
			active++
		}
	}
	if active >= limit {
		m.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %d %s jobs already active", shared.ErrCapacityExceeded, active, jobType)
	}

	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}

	m.seq++
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		job: models.Job{
			ID:        shared.GenerateID(),
			Type:      jobType,
			Status:    models.StatusQueued,
			Message:   "Queued",
			Params:    p,
			CreatedAt: m.now(),
		},
		seq:    m.seq,
		ctx:    ctx,
		cancel: cancel,
	}
	m.jobs[e.job.ID] = e
	job := e.job
	m.hub.publish(models.JobEvent{Kind: models.EventJobAdded, Job: &job})
	m.wg.Add(1)

	m.histMu.Lock()
	m.mu.Unlock()
	m.record(models.HistoryEvent{
		JobID:   job.ID,
		JobType: job.Type,
		Start:   true,
		Status:  job.Status,
		Message: &job.Message,
		Params:  p,
		At:      job.CreatedAt,
	})
	m.histMu.Unlock()

	m.logger.Info("job queued", "job", job.ID, "type", job.Type)
	m.launch(func() {
		defer m.wg.Done()
		m.work(e)
	})
	return job, nil
}

// Cancel requests cancellation of id. It returns false only for unknown ids.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	e.canceled.Store(true)
	e.cancel()
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		return true
	}

	msg := "Cancelled"
	m.applyLocked(e, change{status: models.StatusCanceled, message: &msg})
	m.logger.Info("job canceled", "job", id)
	return true
}

// Remove evicts a terminal job. It returns false for unknown ids and for jobs
// that are still queued or running.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok || e.job.Status.Active() {
		return false
	}
	m.evictLocked(e)
	return true
}

// Get returns a copy of the job id.
func (m *Manager) Get(id string) (models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return e.job, true
}

// ListJobs returns every held job, newest first.
func (m *Manager) ListJobs() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() []models.Job {
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.After(b.job.CreatedAt)
		}
		return a.seq > b.seq
	})

	jobs := make([]models.Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job
	}
	return jobs
}

// Subscribe registers a subscriber. The first event is a snapshot of the current
// jobs, followed by every later change in order.
func (m *Manager) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newSubscription()
	s.push(models.JobEvent{Kind: models.EventSnapshot, Items: m.listLocked()})
	if m.closed {
		s.close()
		return s
	}
	m.hub.add(s)
	return s
}

// Unsubscribe stops delivery to s.
func (m *Manager) Unsubscribe(s *Subscription) {
	m.hub.remove(s)
}

// Close cancels every job, waits for the workers to return and closes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, e := range m.jobs {
		e.canceled.Store(true)
		e.cancel()
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.hub.closeAll()
}

// work runs one job. A job canceled before its worker starts never runs and
// is recorded as canceled unless Cancel already did so.
func (m *Manager) work(e *entry) {
	logger := shared.WithLogger(m.logger, "job", e.job.ID, "type", e.job.Type)
	if e.canceled.Load() {
		msg := "Cancelled"
		m.finish(e, change{status: models.StatusCanceled, message: &msg})
		logger.Debug("canceled before start")
		return
	}

	m.mu.Lock()
	if e.job.Status != models.StatusQueued {
		m.mu.Unlock()
		return
	}
	job := e.job
	zero, starting := 0, "Starting"
	m.applyLocked(e, change{status: models.StatusRunning, progress: &zero, message: &starting})

	progress := make(chan tasks.ProgressUpdate, 32)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range progress {
			m.tick(e, u)
		}
	}()

	path, err := m.runner.Run(e.ctx, job, progress, e.canceled.Load)
	close(progress)
	<-drained

	switch {
	case e.canceled.Load() || errors.Is(err, shared.ErrCanceled):
		msg := "Cancelled"
		m.finish(e, change{status: models.StatusCanceled, message: &msg})
		logger.Info("job canceled")
	case err != nil:
		msg, text := "Error: "+err.Error(), err.Error()
		m.finish(e, change{status: models.StatusError, message: &msg, errText: &text})
		logger.Error("job failed", "err", err)
	default:
		msg := "Complete"
		if path != "" {
			msg += ": " + path
		}
		full := 100
		m.finish(e, change{status: models.StatusDone, progress: &full, message: &msg})
		logger.Info("job complete", "path", path)
	}
}

// tick applies a progress report from a running job.
func (m *Manager) tick(e *entry, u tasks.ProgressUpdate) {
	m.mu.Lock()
	if e.job.Status != models.StatusRunning {
		m.mu.Unlock()
		return
	}
	pct, msg := u.Percent, u.Message
	m.applyLocked(e, change{progress: &pct, message: &msg})
}

func (m *Manager) finish(e *entry, c change) {
	m.mu.Lock()
	m.applyLocked(e, c)
}

// applyLocked updates e, broadcasts it and writes it to history. It must be
// called with mu held and releases it. Terminal jobs are never changed.
func (m *Manager) applyLocked(e *entry, c change) {
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}

	if c.status != "" {
		e.job.Status = c.status
	}
	if c.progress != nil {
		p := max(0, min(100, *c.progress))
		e.job.Progress = p
		c.progress = &p
	}
	if c.message != nil {
		e.job.Message = *c.message
	}

	job := e.job
	m.hub.publish(models.JobEvent{Kind: models.EventJobUpdate, Job: &job})

	if job.Status.Terminal() && !m.closed {
		id := job.ID
		e.timer = time.AfterFunc(m.retention, func() { m.evict(id) })
	}

	m.histMu.Lock()
	m.mu.Unlock()
	m.record(models.HistoryEvent{
		JobID:    job.ID,
		JobType:  job.Type,
		Status:   c.status,
		Progress: c.progress,
		Message:  c.message,
		Error:    c.errText,
		At:       m.now(),
	})
	m.histMu.Unlock()
}

// evict removes a terminal job after its retention period.
func (m *Manager) evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok && e.job.Status.Terminal() {
		m.evictLocked(e)
	}
}

func (m *Manager) evictLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancel()
	delete(m.jobs, e.job.ID)
	m.hub.publish(models.JobEvent{Kind: models.EventSnapshot, Items: m.listLocked()})
}

// record writes ev to history. Failures are logged; history never fails a job.
func (m *Manager) record(ev models.HistoryEvent) {
	if m.history == nil {
		return
	}
	if err := m.history.Record(context.Background(), ev); err != nil {
		m.logger.Warn("failed to record job history", "job", ev.JobID, "err", err)
	}
}
