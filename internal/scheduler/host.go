// Package scheduler owns the running pipelines. The host holds one state
// machine per active pipeline, ticks each when its adaptive wait elapses,
// snapshots after every state change, and restores in-flight pipelines from
// the store after a restart.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/resilient-vitality/conveyor/internal/logging"
	"github.com/resilient-vitality/conveyor/internal/pipeline"
	"github.com/resilient-vitality/conveyor/internal/runtime"
	"github.com/resilient-vitality/conveyor/internal/store"
)

// Event describes a pipeline status transition. The gateway fans these out
// to dashboard subscribers.
type Event struct {
	PipelineID string                  `json:"pipeline_id"`
	Repo       string                  `json:"repo"`
	Status     store.PipelineStatus    `json:"status"`
	Results    []pipeline.ActionResult `json:"results,omitempty"`
}

// Options configures the host
type Options struct {
	// MaxRetries is the number of consecutive tick errors tolerated per
	// pipeline before it is cancelled.
	MaxRetries int
	// ArchiveSchedule is a cron expression for the finished-pipeline sweep.
	ArchiveSchedule string
	// ArchiveAfter is how long finished pipelines stay queryable before the
	// sweep archives them.
	ArchiveAfter time.Duration
	// OnEvent, when set, receives every pipeline status transition.
	OnEvent func(Event)
}

type entry struct {
	id      string
	repo    string
	machine *pipeline.StateMachine
	dueAt   time.Time
	retries int
}

// Host drives all active pipelines against the shared runtime context
type Host struct {
	store *store.Store
	rt    *runtime.Context
	opts  Options
	cron  *cron.Cron
	log   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// NewHost creates a host over the store and runtime context
func NewHost(st *store.Store, rt *runtime.Context, opts Options) *Host {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 5
	}
	if opts.ArchiveSchedule == "" {
		opts.ArchiveSchedule = "@hourly"
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = 24 * time.Hour
	}
	return &Host{
		store:   st,
		rt:      rt,
		opts:    opts,
		cron:    cron.New(),
		log:     logging.WithComponent("scheduler"),
		entries: make(map[string]*entry),
	}
}

// SetOnEvent installs the status transition callback. Call before Run.
func (h *Host) SetOnEvent(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.OnEvent = fn
}

// Restore reloads every running pipeline from the store so polling resumes
// where it stopped. Already started actions are not started again.
func (h *Host) Restore(ctx context.Context) error {
	records, err := h.store.ActivePipelines(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range records {
		h.entries[rec.ID] = &entry{
			id:      rec.ID,
			repo:    rec.Repo,
			machine: pipeline.Restore(rec.Pipeline),
			dueAt:   time.Now(),
		}
	}
	if len(records) > 0 {
		h.log.Info("restored pipelines", slog.Int("count", len(records)))
	}
	return nil
}

// Add persists a new pipeline and registers it for ticking, returning its id
func (h *Host) Add(ctx context.Context, repo string, p *pipeline.Pipeline) (string, error) {
	id := uuid.NewString()
	machine := pipeline.NewStateMachine(p)

	if err := h.store.SavePipeline(ctx, &store.PipelineRecord{
		ID:       id,
		Repo:     repo,
		Status:   store.StatusRunning,
		Pipeline: machine.Snapshot(),
	}); err != nil {
		return "", err
	}

	h.mu.Lock()
	h.entries[id] = &entry{id: id, repo: repo, machine: machine, dueAt: time.Now()}
	h.mu.Unlock()

	h.log.Info("pipeline added", slog.String("pipeline_id", id), slog.String("repo", repo))
	h.emit(Event{PipelineID: id, Repo: repo, Status: store.StatusRunning})
	return id, nil
}

// Run ticks due pipelines until the context is cancelled. The archive sweep
// runs on its own cron schedule.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	if _, err := h.cron.AddFunc(h.opts.ArchiveSchedule, func() {
		h.archive(ctx)
	}); err != nil {
		return err
	}
	h.cron.Start()
	defer func() {
		stopCtx := h.cron.Stop()
		<-stopCtx.Done()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	h.log.Info("scheduler started", slog.String("archive_schedule", h.opts.ArchiveSchedule))
	for {
		select {
		case <-ctx.Done():
			h.log.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			h.step(ctx, now)
		}
	}
}

// ActiveCount reports how many pipelines the host is driving
func (h *Host) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// step ticks every due entry once
func (h *Host) step(ctx context.Context, now time.Time) {
	h.mu.Lock()
	var due []*entry
	for _, e := range h.entries {
		if !e.dueAt.After(now) {
			due = append(due, e)
		}
	}
	h.mu.Unlock()

	for _, e := range due {
		h.tickEntry(ctx, e, now)
	}
}

func (h *Host) tickEntry(ctx context.Context, e *entry, now time.Time) {
	log := logging.WithPipeline(e.id).With(
		slog.String("component", "scheduler"), slog.String("repo", e.repo))

	res, err := e.machine.Tick(ctx, h.rt)
	if err != nil {
		e.retries++
		log.Warn("tick failed",
			slog.Int("retries", e.retries),
			slog.Int("max_retries", h.opts.MaxRetries),
			slog.Any("error", err))
		if e.retries >= h.opts.MaxRetries {
			h.fail(ctx, e, log)
			return
		}
		e.dueAt = now.Add(retryDelay(e.machine.RecommendedWait(), e.retries))
		return
	}
	e.retries = 0

	if res.Advanced {
		h.persist(ctx, e, statusFor(e.machine, res))
	}
	if res.Terminal {
		status := statusFor(e.machine, res)
		log.Info("pipeline finished", slog.String("status", string(status)))
		h.remove(e)
		h.emit(Event{PipelineID: e.id, Repo: e.repo, Status: status, Results: e.machine.Pipeline().Results()})
		return
	}
	h.reschedule(e, now)
}

// fail cancels a pipeline whose retry budget ran out and records it failed
func (h *Host) fail(ctx context.Context, e *entry, log *slog.Logger) {
	snap := e.machine.Snapshot()
	snap.Cancel()
	log.Error("retry budget exhausted, cancelling pipeline")

	if err := h.store.SavePipeline(ctx, &store.PipelineRecord{
		ID:       e.id,
		Repo:     e.repo,
		Status:   store.StatusFailed,
		Pipeline: snap,
	}); err != nil {
		log.Error("failed to persist cancelled pipeline", slog.Any("error", err))
	}
	h.remove(e)
	h.emit(Event{PipelineID: e.id, Repo: e.repo, Status: store.StatusFailed, Results: snap.Results()})
}

func (h *Host) persist(ctx context.Context, e *entry, status store.PipelineStatus) {
	if err := h.store.SavePipeline(ctx, &store.PipelineRecord{
		ID:       e.id,
		Repo:     e.repo,
		Status:   status,
		Pipeline: e.machine.Snapshot(),
	}); err != nil {
		h.log.Error("failed to persist pipeline snapshot",
			slog.String("pipeline_id", e.id), slog.Any("error", err))
	}
}

func (h *Host) reschedule(e *entry, now time.Time) {
	e.dueAt = now.Add(e.machine.RecommendedWait())
}

// retryDelay grows the machine's recommended wait by half per consecutive
// tick error, clamped like the machine's own backoff.
func retryDelay(base time.Duration, retries int) time.Duration {
	delay := base
	for i := 0; i < retries; i++ {
		delay = delay * 3 / 2
		if delay >= pipeline.MaxWait {
			return pipeline.MaxWait
		}
	}
	return delay
}

func (h *Host) remove(e *entry) {
	h.mu.Lock()
	delete(h.entries, e.id)
	h.mu.Unlock()
}

func (h *Host) emit(ev Event) {
	h.mu.Lock()
	fn := h.opts.OnEvent
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *Host) archive(ctx context.Context) {
	n, err := h.store.ArchiveFinished(ctx, time.Now().Add(-h.opts.ArchiveAfter))
	if err != nil {
		h.log.Error("archive sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		h.log.Info("archived finished pipelines", slog.Int64("count", n))
	}
}

// statusFor maps a machine's outcome onto a stored status. A pipeline with
// any failed or cancelled action finished failed.
func statusFor(m *pipeline.StateMachine, res pipeline.TickResult) store.PipelineStatus {
	if !res.Terminal {
		return store.StatusRunning
	}
	for _, r := range m.Pipeline().Results() {
		if r == pipeline.ResultFailed || r == pipeline.ResultCanceled {
			return store.StatusFailed
		}
	}
	return store.StatusComplete
}
