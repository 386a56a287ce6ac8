package dashboard_test

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/dashboard"
	"github.com/tars-dashboard/engine/internal/gate"
	"github.com/tars-dashboard/engine/internal/scheduler"
	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/internal/status"
	"github.com/tars-dashboard/engine/pkg/models"
)

const secret = "harsha_tars"

var testStart = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// stubFetcher serves a configurable snapshot.
type stubFetcher struct {
	mu       sync.Mutex
	snap     models.StatusSnapshot
	fallback bool
	calls    int
}

func (f *stubFetcher) Fetch(ctx context.Context) status.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fallback {
		return status.Result{Snapshot: status.Fallback(), Fallback: true, Err: errors.New("unreachable")}
	}
	return status.Result{Snapshot: f.snap.Clone()}
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *stubFetcher) SetFallback(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = v
}

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// cycleRand repeats values forever.
type cycleRand struct {
	mu     sync.Mutex
	values []float64
	i      int
}

func (r *cycleRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

func testConfig(c *clock.Fake, rng scheduler.RandSource) dashboard.Config {
	return dashboard.Config{
		Secret:    secret,
		Scheduler: scheduler.DefaultConfig(),
		Clock:     c,
		Rand:      rng,
	}
}

func newTestController(t *testing.T, rng scheduler.RandSource) (*dashboard.Controller, *stubFetcher, *clock.Fake, sessions.Storage) {
	t.Helper()
	if rng == nil {
		rng = fixedRand(0.99)
	}
	c := clock.NewFake(testStart)
	f := &stubFetcher{snap: models.StatusSnapshot{
		Memories:     250,
		Tasks:        1,
		SystemStatus: map[string]string{"memoryDb": "online"},
	}}
	st := sessions.NewMemoryStore().Scope("tab")
	ctl := dashboard.NewController("tab", st, f, testConfig(c, rng))
	t.Cleanup(ctl.Close)
	return ctl, f, c, st
}

func drain(ch chan dashboard.Event) []dashboard.Event {
	var out []dashboard.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(events []dashboard.Event) []dashboard.EventType {
	types := make([]dashboard.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestController_UnlockDenied(t *testing.T) {
	ctl, f, _, _ := newTestController(t, nil)

	err := ctl.Unlock(context.Background(), "wrong")
	if !errors.Is(err, gate.ErrAccessDenied) {
		t.Fatalf("Unlock(wrong) error = %v, want ErrAccessDenied", err)
	}
	if ctl.Unlocked() || f.Calls() != 0 {
		t.Error("denied unlock must not start polling")
	}
	if ctl.Snapshot() != nil {
		t.Error("no snapshot expected while locked")
	}
}

func TestController_UnlockLoadsImmediately(t *testing.T) {
	ctl, f, _, _ := newTestController(t, nil)
	ch := ctl.Subscribe()
	defer ctl.Unsubscribe(ch)

	if err := ctl.Unlock(context.Background(), " harsha_tars "); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if f.Calls() != 1 {
		t.Errorf("fetches = %d, want 1", f.Calls())
	}

	want := []dashboard.EventType{
		dashboard.EventClockTick,
		dashboard.EventSnapshotReplaced,
		dashboard.EventInsightsRecomputed,
		dashboard.EventNotification,
	}
	events := drain(ch)
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if n, ok := events[3].Data.(dashboard.Notification); !ok || n.Message != "Data synchronized" {
		t.Errorf("notification = %+v, want Data synchronized", events[3].Data)
	}

	v := ctl.View()
	if v.Snapshot == nil || v.Snapshot.Memories != 250 {
		t.Fatalf("View().Snapshot = %+v", v.Snapshot)
	}
	if v.Insights == nil || v.Insights.Velocity.Value != "+25 today" {
		t.Errorf("View().Insights = %+v", v.Insights)
	}
	if v.Clock != "08:00" {
		t.Errorf("Clock = %q, want 08:00", v.Clock)
	}
	if v.LastSync != "08:00:00" {
		t.Errorf("LastSync = %q, want 08:00:00", v.LastSync)
	}
	if v.UptimeDays != 266 {
		t.Errorf("UptimeDays = %d, want 266", v.UptimeDays)
	}
	if !v.Connected || v.Fallback || !v.Visible {
		t.Errorf("View() connected=%v fallback=%v visible=%v", v.Connected, v.Fallback, v.Visible)
	}
}

func TestController_FallbackNotification(t *testing.T) {
	ctl, f, _, _ := newTestController(t, nil)
	f.SetFallback(true)
	ch := ctl.Subscribe()
	defer ctl.Unsubscribe(ch)

	if err := ctl.Unlock(context.Background(), secret); err != nil {
		t.Fatal(err)
	}

	var note *dashboard.Notification
	for _, e := range drain(ch) {
		if n, ok := e.Data.(dashboard.Notification); ok {
			note = &n
		}
	}
	if note == nil || note.Level != "error" || note.Message != "Sync failed - using fallback data" {
		t.Errorf("notification = %+v, want fallback error", note)
	}

	v := ctl.View()
	if v.Connected || !v.Fallback {
		t.Errorf("View() connected=%v fallback=%v, want disconnected fallback", v.Connected, v.Fallback)
	}
	if v.Snapshot == nil || v.Snapshot.Memories != 107 {
		t.Errorf("fallback snapshot not rendered: %+v", v.Snapshot)
	}
}

func TestController_LastSyncAge(t *testing.T) {
	ctl, _, c, _ := newTestController(t, nil)
	ctx := context.Background()
	if err := ctl.Unlock(ctx, secret); err != nil {
		t.Fatal(err)
	}
	ctl.SetVisible(ctx, false)
	c.Advance(5 * time.Minute)

	v := ctl.View()
	if v.LastSync != "08:00:00" {
		t.Errorf("LastSync = %q, want 08:00:00 while hidden", v.LastSync)
	}
	if v.LastSyncAgo != "5 minutes ago" {
		t.Errorf("LastSyncAgo = %q, want %q", v.LastSyncAgo, "5 minutes ago")
	}
	if v.Clock != "08:05" {
		t.Errorf("Clock = %q, want 08:05", v.Clock)
	}
}

func TestController_JitterNeverNegative(t *testing.T) {
	// Always fire, always pick tasks, always decrement.
	rng := &cycleRand{values: []float64{0.0, 0.5, 0.1}}
	ctl, _, c, _ := newTestController(t, rng)
	ch := ctl.Subscribe()
	defer ctl.Unsubscribe(ch)

	if err := ctl.Unlock(context.Background(), secret); err != nil {
		t.Fatal(err)
	}
	drain(ch)

	c.Advance(15 * time.Second)
	events := drain(ch)
	if len(events) < 1 || events[0].Type != dashboard.EventMetricChanged {
		t.Fatalf("events = %v, want metric_changed first", eventTypes(events))
	}
	mc := events[0].Data.(dashboard.MetricChange)
	if mc.Field != "tasks" || mc.Value != 0 || mc.Delta != -1 {
		t.Errorf("MetricChange = %+v, want tasks 0 (-1)", mc)
	}

	for i := 0; i < 20; i++ {
		c.Advance(15 * time.Second)
		for _, e := range drain(ch) {
			if mc, ok := e.Data.(dashboard.MetricChange); ok && mc.Value < 0 {
				t.Fatalf("counter went negative: %+v", mc)
			}
		}
		if snap := ctl.Snapshot(); snap.Tasks < 0 {
			t.Fatalf("tasks = %d", snap.Tasks)
		}
	}
}

func TestController_RestoreAcrossInstances(t *testing.T) {
	ctl, f, c, st := newTestController(t, nil)
	ctx := context.Background()
	if err := ctl.Unlock(ctx, secret); err != nil {
		t.Fatal(err)
	}
	ctl.Close()

	c.Advance(time.Hour)
	again := dashboard.NewController("tab", st, f, testConfig(c, fixedRand(0.99)))
	defer again.Close()
	if err := again.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !again.Unlocked() || again.Snapshot() == nil {
		t.Error("restored session should be unlocked and loaded")
	}
}

func TestController_Expiry(t *testing.T) {
	ctl, f, c, st := newTestController(t, nil)
	ctx := context.Background()
	if err := ctl.Unlock(ctx, secret); err != nil {
		t.Fatal(err)
	}
	ch := ctl.Subscribe()
	defer ctl.Unsubscribe(ch)

	c.Advance(24 * time.Hour)
	drain(ch)
	if ctl.Unlocked() {
		t.Fatal("session should expire after 24h")
	}
	if ctl.RefreshEnabled() {
		t.Error("expired session should stop polling")
	}
	calls := f.Calls()
	c.Advance(time.Hour)
	if f.Calls() != calls {
		t.Error("expired session kept polling")
	}

	for _, key := range []string{gate.KeyAuthenticated, gate.KeyAuthorizedAt} {
		if v, ok, _ := st.Get(ctx, key); ok {
			t.Errorf("%s = %q still persisted after expiry", key, v)
		}
	}
	if !slices.Contains(eventTypes(drain(ch)), dashboard.EventLocked) {
		t.Error("expiry should publish a locked event")
	}

	again := dashboard.NewController("tab", st, f, testConfig(c, fixedRand(0.99)))
	defer again.Close()
	if err := again.Restore(ctx); err != nil || again.Unlocked() {
		t.Errorf("Restore() after expiry = %v, unlocked %v; want locked with no record", err, again.Unlocked())
	}
}

func TestController_RestoreStaleRecord(t *testing.T) {
	_, f, c, st := newTestController(t, nil)
	ctx := context.Background()
	stale := c.Now().Add(-25 * time.Hour).UnixMilli()
	st.Put(ctx, map[string]string{
		gate.KeyAuthenticated: "true",
		gate.KeyAuthorizedAt:  strconv.FormatInt(stale, 10),
	})

	ctl := dashboard.NewController("tab", st, f, testConfig(c, fixedRand(0.99)))
	defer ctl.Close()
	if err := ctl.Restore(ctx); !errors.Is(err, gate.ErrSessionExpired) {
		t.Errorf("Restore() error = %v, want ErrSessionExpired", err)
	}
}

func TestController_LockClearsSession(t *testing.T) {
	ctl, f, c, st := newTestController(t, nil)
	ctx := context.Background()
	if err := ctl.Unlock(ctx, secret); err != nil {
		t.Fatal(err)
	}
	ctl.Lock(ctx)

	if ctl.Unlocked() || ctl.RefreshEnabled() {
		t.Error("Lock should stop the session")
	}
	if _, ok, _ := st.Get(ctx, gate.KeyAuthenticated); ok {
		t.Error("Lock should clear persisted entries")
	}
	calls := f.Calls()
	c.Advance(10 * time.Minute)
	if f.Calls() != calls {
		t.Error("locked session kept polling")
	}
}

func TestController_ManualRefresh(t *testing.T) {
	ctl, f, c, _ := newTestController(t, nil)
	ctx := context.Background()
	if ctl.Refresh(ctx) {
		t.Error("refresh while locked should be rejected")
	}
	if err := ctl.Unlock(ctx, secret); err != nil {
		t.Fatal(err)
	}

	if !ctl.Refresh(ctx) {
		t.Fatal("first refresh should start")
	}
	if ctl.Refresh(ctx) {
		t.Error("refresh during cooldown should be rejected")
	}
	c.Advance(500 * time.Millisecond)
	if !ctl.Refresh(ctx) {
		t.Error("refresh after cooldown should start")
	}
	if f.Calls() != 3 {
		t.Errorf("fetches = %d, want 3", f.Calls())
	}
}

func TestUptimeDays(t *testing.T) {
	start := dashboard.DefaultStartDate
	tests := []struct {
		now  time.Time
		want int
	}{
		{start.Add(-48 * time.Hour), 1},
		{start, 1},
		{start.Add(47 * time.Hour), 1},
		{start.Add(48 * time.Hour), 2},
		{start.AddDate(0, 0, 100), 100},
	}
	for _, tt := range tests {
		if got := dashboard.UptimeDays(start, tt.now); got != tt.want {
			t.Errorf("UptimeDays(%s) = %d, want %d", tt.now, got, tt.want)
		}
	}
}
