// Package dashboard ties one client session's gate, state, scheduler and
// event bus together, and keeps a hub of those sessions.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/gate"
	"github.com/tars-dashboard/engine/internal/scheduler"
	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/internal/status"
	"github.com/tars-dashboard/engine/pkg/models"
)

// DefaultStartDate is the day the uptime counter starts from.
var DefaultStartDate = time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)

const (
	clockLayout    = "15:04"
	lastSyncLayout = "15:04:05"

	msgSynced   = "Data synchronized"
	msgFallback = "Sync failed - using fallback data"
)

// Config parameterizes every controller a hub creates.
type Config struct {
	Secret        string
	StartDate     time.Time
	SessionExpiry time.Duration
	Scheduler     scheduler.Config
	Clock         clock.Clock
	Rand          scheduler.RandSource
}

func (c Config) withDefaults() Config {
	if c.StartDate.IsZero() {
		c.StartDate = DefaultStartDate
	}
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = gate.DefaultExpiry
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

// Controller is the engine instance behind one client session. It is the
// scheduler's sink and publishes every change on its bus.
type Controller struct {
	id        string
	gate      *gate.Gate
	state     *State
	bus       *Bus
	sched     *scheduler.Scheduler
	clock     clock.Clock
	startDate time.Time

	mu         sync.RWMutex
	clockText  string
	uptimeDays int
	lastSync   time.Time
	connected  bool
	fallback   bool
	lastSeen   time.Time
}

// NewController builds a locked, stopped controller over the given storage.
func NewController(id string, storage sessions.Storage, fetcher status.Fetcher, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		id:        id,
		state:     NewState(),
		bus:       NewBus(),
		clock:     cfg.Clock,
		startDate: cfg.StartDate,
	}
	c.gate = gate.New(cfg.Secret, storage,
		gate.WithExpiry(cfg.SessionExpiry), gate.WithClock(cfg.Clock))

	opts := []scheduler.Option{scheduler.WithClock(cfg.Clock)}
	if cfg.Rand != nil {
		opts = append(opts, scheduler.WithRand(cfg.Rand))
	}
	c.sched = scheduler.New(cfg.Scheduler, fetcher, c, opts...)
	c.lastSeen = cfg.Clock.Now()
	return c
}

// ID returns the client session id.
func (c *Controller) ID() string { return c.id }

// ── Session lifecycle ────────────────────────────────────────

// Restore reloads the gate from storage and starts polling if the stored
// unlock is still valid. An expired record is cleared and reported as
// gate.ErrSessionExpired.
func (c *Controller) Restore(ctx context.Context) error {
	c.Touch()
	err := c.gate.Restore(ctx)
	if c.gate.Unlocked() {
		log.Info().Str("session", c.id).Msg("Dashboard session restored")
		c.sched.Start(ctx)
	}
	return err
}

// Unlock checks candidate against the shared secret. On success the session
// is persisted and polling starts with an immediate load.
func (c *Controller) Unlock(ctx context.Context, candidate string) error {
	c.Touch()
	if err := c.gate.Attempt(ctx, candidate); err != nil {
		log.Info().Str("session", c.id).Msg("Dashboard unlock denied")
		return err
	}
	log.Info().Str("session", c.id).Msg("Dashboard unlocked")
	c.sched.Start(ctx)
	return nil
}

// Lock stops polling and clears the persisted session.
func (c *Controller) Lock(ctx context.Context) {
	c.sched.Stop()
	c.gate.Clear(ctx)
	c.publish(EventLocked, nil)
	log.Info().Str("session", c.id).Msg("Dashboard locked")
}

// Unlocked reports whether the gate is open. A session whose unlock has
// expired while running is stopped here and its persisted record destroyed.
func (c *Controller) Unlocked() bool {
	if c.gate.Unlocked() {
		return true
	}
	if c.sched.Started() {
		c.sched.Stop()
		c.gate.Clear(context.Background())
		c.publish(EventLocked, nil)
		log.Info().Str("session", c.id).Msg("Dashboard session expired")
	}
	return false
}

// Session returns the gate state.
func (c *Controller) Session() models.Session {
	return c.gate.Session()
}

// Close stops polling and closes every event subscription. The persisted
// session is left intact.
func (c *Controller) Close() {
	c.sched.Stop()
	c.bus.Close()
}

// ── Renderer inputs ──────────────────────────────────────────

// SetVisible forwards a page visibility change to the scheduler.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.Touch()
	c.sched.SetVisible(ctx, visible)
}

// Refresh is the manual refresh trigger. It reports false while a previous
// manual refresh is in flight or cooling down.
func (c *Controller) Refresh(ctx context.Context) bool {
	c.Touch()
	return c.sched.ManualRefresh(ctx)
}

// RefreshNow refreshes out of band, for example when the collector rewrites
// the local status file.
func (c *Controller) RefreshNow(ctx context.Context) bool {
	return c.sched.RefreshNow(ctx)
}

// RefreshEnabled reports whether the manual trigger is accepting presses.
func (c *Controller) RefreshEnabled() bool {
	return c.sched.RefreshEnabled()
}

// Subscribe returns a channel of renderer events. Call Unsubscribe when done.
func (c *Controller) Subscribe() chan Event {
	c.Touch()
	return c.bus.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (c *Controller) Unsubscribe(ch chan Event) {
	c.bus.Unsubscribe(ch)
}

// Snapshot returns a copy of the current snapshot, or nil before the first load.
func (c *Controller) Snapshot() *models.StatusSnapshot { return c.state.Snapshot() }

// Insights returns the current insights, or nil before the first load.
func (c *Controller) Insights() *models.InsightSet { return c.state.Insights() }

// View assembles everything the renderer paints.
func (c *Controller) View() models.DashboardView {
	c.Touch()
	now := c.clock.Now()
	v := models.DashboardView{
		Snapshot: c.state.Snapshot(),
		Insights: c.state.Insights(),
		Visible:  c.sched.Visible(),
	}

	// The scheduler calls into c.mu while holding its own lock, so c.mu is
	// taken only after every scheduler read.
	c.mu.RLock()
	defer c.mu.RUnlock()
	v.Clock = c.clockText
	v.UptimeDays = c.uptimeDays
	v.Connected = c.connected
	v.Fallback = c.fallback
	if v.Clock == "" {
		v.Clock = now.Format(clockLayout)
		v.UptimeDays = UptimeDays(c.startDate, now)
	}
	if !c.lastSync.IsZero() {
		v.LastSync = c.lastSync.Format(lastSyncLayout)
		v.LastSyncAgo = humanize.RelTime(c.lastSync, now, "ago", "from now")
	}
	return v
}

// Touch marks the session as recently used.
func (c *Controller) Touch() {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (c *Controller) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Subscribers returns the number of open event streams.
func (c *Controller) Subscribers() int { return c.bus.Subscribers() }

// ── scheduler.Sink ───────────────────────────────────────────

// Replace stores a fetched snapshot, recomputes insights and notifies.
func (c *Controller) Replace(res status.Result) {
	set := c.state.Replace(res.Snapshot)

	at := res.FetchedAt
	if at.IsZero() {
		at = c.clock.Now()
	}
	c.mu.Lock()
	c.lastSync = at
	c.connected = !res.Fallback
	c.fallback = res.Fallback
	c.mu.Unlock()

	c.publish(EventSnapshotReplaced, c.state.Snapshot())
	c.publish(EventInsightsRecomputed, set)
	if res.Fallback {
		c.publish(EventNotification, Notification{Level: "error", Message: msgFallback})
	} else {
		c.publish(EventNotification, Notification{Level: "success", Message: msgSynced})
	}
}

// MutateField nudges one counter and republishes insights.
func (c *Controller) MutateField(field string, delta int) (int, bool) {
	v, ok := c.state.MutateField(field, delta)
	if !ok {
		return 0, false
	}
	c.publish(EventMetricChanged, MetricChange{Field: field, Value: v, Delta: delta, Display: humanize.Comma(int64(v))})
	if set := c.state.Insights(); set != nil {
		c.publish(EventInsightsRecomputed, *set)
	}
	return v, true
}

// Tick updates the clock text and uptime counter.
func (c *Controller) Tick(now time.Time) {
	tick := ClockTick{Clock: now.Format(clockLayout), UptimeDays: UptimeDays(c.startDate, now)}
	c.mu.Lock()
	c.clockText = tick.Clock
	c.uptimeDays = tick.UptimeDays
	c.mu.Unlock()
	c.publish(EventClockTick, tick)
}

func (c *Controller) publish(t EventType, data any) {
	c.bus.Publish(Event{Type: t, Time: c.clock.Now(), Data: data})
}

// UptimeDays counts whole days since start, never less than one.
func UptimeDays(start, now time.Time) int {
	return max(1, int(now.Sub(start)/(24*time.Hour)))
}
