// Package scheduler drives the dashboard's periodic work: full status
// refreshes, live jitter between refreshes, and the once-a-minute clock tick.
//
// The scheduler tracks two independent axes, session (started/stopped) and
// page visibility. Hiding the page cancels the refresh and jitter tasks
// outright; showing it again restarts them and refreshes immediately. The
// clock task keeps running while hidden.
//
// Every task is a chain of one-shot timers. Each arm carries the task's
// generation number, and a timer whose generation is stale does nothing when
// it fires, so cancelling a task is synchronous and total.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/status"
)

// TaskName identifies one of the scheduler's periodic tasks.
type TaskName string

const (
	TaskRefresh TaskName = "refresh"
	TaskJitter  TaskName = "jitter"
	TaskClock   TaskName = "clock"
)

// Sink receives the scheduler's output. Implementations must not call back
// into the scheduler.
type Sink interface {
	// Replace stores a freshly fetched (or fallback) snapshot.
	Replace(res status.Result)
	// MutateField nudges one counter in place, clamped at zero.
	MutateField(field string, delta int) (int, bool)
	// Tick is called once per clock interval.
	Tick(now time.Time)
}

// Config holds the scheduler's timing parameters.
type Config struct {
	RefreshInterval   time.Duration
	JitterInterval    time.Duration
	JitterProbability float64
	ClockInterval     time.Duration
	RefreshCooldown   time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		RefreshInterval:   30 * time.Second,
		JitterInterval:    15 * time.Second,
		JitterProbability: 0.4,
		ClockInterval:     time.Minute,
		RefreshCooldown:   500 * time.Millisecond,
	}
}

type task struct {
	name     TaskName
	interval time.Duration
	run      func(ctx context.Context)

	active bool
	gen    uint64
	timer  clock.Timer
}

// Scheduler owns every timer of one dashboard session.
type Scheduler struct {
	cfg     Config
	fetcher status.Fetcher
	sink    Sink
	clock   clock.Clock
	rng     RandSource

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	visible  bool
	tasks    map[TaskName]*task
	running  sync.WaitGroup
	busy     bool // manual refresh in flight or cooling down
	cooldown clock.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the timer source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRand sets the random source used by the jitter task.
func WithRand(r RandSource) Option {
	return func(s *Scheduler) { s.rng = r }
}

// New creates a stopped, visible scheduler.
func New(cfg Config, fetcher status.Fetcher, sink Sink, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.JitterInterval <= 0 {
		cfg.JitterInterval = def.JitterInterval
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = def.ClockInterval
	}
	if cfg.RefreshCooldown < 0 {
		cfg.RefreshCooldown = 0
	}

	s := &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		clock:   clock.Real{},
		rng:     defaultRand{},
		visible: true,
	}
	for _, o := range opts {
		o(s)
	}
	s.tasks = map[TaskName]*task{
		TaskRefresh: {name: TaskRefresh, interval: cfg.RefreshInterval, run: func(ctx context.Context) { s.refresh(ctx, "scheduled") }},
		TaskJitter:  {name: TaskJitter, interval: cfg.JitterInterval, run: func(context.Context) { s.jitter() }},
		TaskClock:   {name: TaskClock, interval: cfg.ClockInterval, run: func(context.Context) { s.sink.Tick(s.clock.Now()) }},
	}
	return s
}

// Start begins a session: it ticks the clock, performs the initial load and
// arms all periodic tasks. Calling Start on a started scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.startTask(TaskClock)
	if s.visible {
		s.startTask(TaskRefresh)
		s.startTask(TaskJitter)
	}
	runCtx := s.ctx
	s.mu.Unlock()

	log.Debug().
		Dur("refresh", s.cfg.RefreshInterval).
		Dur("jitter", s.cfg.JitterInterval).
		Msg("Dashboard scheduler started")

	s.sink.Tick(s.clock.Now())
	s.refresh(runCtx, "initial")
}

// Stop cancels every task and waits for task bodies already running to
// return. No task body starts after Stop returns. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for name := range s.tasks {
		s.stopTask(name)
	}
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	s.busy = false
	s.cancel()
	s.mu.Unlock()

	s.running.Wait()
	log.Debug().Msg("Dashboard scheduler stopped")
}

// SetVisible records a page visibility change. Hiding cancels the refresh
// and jitter tasks; showing restarts them and refreshes immediately without
// waiting for the next interval. An in-flight fetch is never cancelled.
func (s *Scheduler) SetVisible(ctx context.Context, visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	if !s.started {
		s.mu.Unlock()
		return
	}
	if !visible {
		s.stopTask(TaskRefresh)
		s.stopTask(TaskJitter)
		s.mu.Unlock()
		return
	}
	s.startTask(TaskRefresh)
	s.startTask(TaskJitter)
	s.mu.Unlock()

	runCtx, cancel := s.bind(ctx)
	defer cancel()
	s.refresh(runCtx, "visible")
}

// ManualRefresh fetches immediately. It reports false without doing anything
// while a previous manual refresh is still in flight or within its cooldown;
// the trigger re-enables RefreshCooldown after the fetch settles.
func (s *Scheduler) ManualRefresh(ctx context.Context) bool {
	s.mu.Lock()
	if !s.started || s.busy {
		s.mu.Unlock()
		return false
	}
	s.busy = true
	s.mu.Unlock()

	runCtx, cancel := s.bind(ctx)
	s.refresh(runCtx, "manual")
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.busy = false
		return true
	}
	s.cooldown = s.clock.AfterFunc(s.cfg.RefreshCooldown, func() {
		s.mu.Lock()
		s.busy = false
		s.cooldown = nil
		s.mu.Unlock()
	})
	return true
}

// RefreshNow performs an out-of-band refresh, bypassing the manual trigger's
// cooldown. It is skipped while stopped or hidden.
func (s *Scheduler) RefreshNow(ctx context.Context) bool {
	s.mu.Lock()
	ok := s.started && s.visible
	s.mu.Unlock()
	if !ok {
		return false
	}

	runCtx, cancel := s.bind(ctx)
	defer cancel()
	s.refresh(runCtx, "out-of-band")
	return true
}

// Started reports whether the session is running.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Visible reports the last recorded page visibility.
func (s *Scheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// RefreshEnabled reports whether a manual refresh would be accepted.
func (s *Scheduler) RefreshEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.busy
}

// Active reports whether the named task is currently armed.
func (s *Scheduler) Active(name TaskName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return ok && t.active
}

// bind derives a context from ctx that is also cancelled on Stop.
func (s *Scheduler) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if base == nil {
		return runCtx, cancel
	}
	stop := context.AfterFunc(base, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// refresh fetches a snapshot and hands it to the sink unless the session was
// torn down while the fetch was in flight.
func (s *Scheduler) refresh(ctx context.Context, reason string) {
	res := s.fetcher.Fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		log.Debug().Str("reason", reason).Msg("Dropping refresh result after teardown")
		return
	}
	s.sink.Replace(res)
}

// ── task timers (callers hold s.mu) ─────────────────────────

func (s *Scheduler) startTask(name TaskName) {
	t := s.tasks[name]
	if t.active {
		return
	}
	t.active = true
	t.gen++
	s.arm(t, t.gen)
}

func (s *Scheduler) stopTask(name TaskName) {
	t := s.tasks[name]
	if !t.active {
		return
	}
	t.active = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (s *Scheduler) arm(t *task, gen uint64) {
	t.timer = s.clock.AfterFunc(t.interval, func() { s.fire(t, gen) })
}

func (s *Scheduler) fire(t *task, gen uint64) {
	s.mu.Lock()
	if !s.started || !t.active || t.gen != gen {
		s.mu.Unlock()
		return
	}
	s.arm(t, gen)
	ctx := s.ctx
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	t.run(ctx)
}
