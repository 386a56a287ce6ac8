package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/internal/status"
)

// DefaultIdleTTL is how long an unused session is kept in memory.
const DefaultIdleTTL = 30 * time.Minute

// Hub owns one Controller per client session id.
type Hub struct {
	store   sessions.Store
	fetcher status.Fetcher
	cfg     Config
	idleTTL time.Duration

	mu          sync.Mutex
	controllers map[string]*Controller
	closed      bool
}

// NewHub creates a hub whose controllers persist into store and poll fetcher.
func NewHub(store sessions.Store, fetcher status.Fetcher, cfg Config, idleTTL time.Duration) *Hub {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Hub{
		store:       store,
		fetcher:     fetcher,
		cfg:         cfg.withDefaults(),
		idleTTL:     idleTTL,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the live controller for id.
func (h *Hub) Get(id string) (*Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.controllers[id]
	return c, ok
}

// GetOrCreate returns the controller for id, creating it on first use. A new
// controller restores its session from storage, so a session unlocked before
// a restart or eviction resumes polling.
func (h *Hub) GetOrCreate(ctx context.Context, id string) *Controller {
	h.mu.Lock()
	if c, ok := h.controllers[id]; ok {
		h.mu.Unlock()
		return c
	}
	h.mu.Unlock()

	c := NewController(id, h.store.Scope(id), h.fetcher, h.cfg)
	if err := c.Restore(ctx); err != nil {
		log.Debug().Err(err).Str("session", id).Msg("Session not restored")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.controllers[id]; ok {
		// Lost a race with a concurrent request for the same session.
		c.Close()
		return existing
	}
	if h.closed {
		c.Close()
		return c
	}
	h.controllers[id] = c
	return c
}

// Remove tears down the controller for id and drops its storage.
func (h *Hub) Remove(ctx context.Context, id string) {
	h.mu.Lock()
	c, ok := h.controllers[id]
	delete(h.controllers, id)
	h.mu.Unlock()

	if ok {
		c.Close()
	}
	if err := h.store.Drop(ctx, id); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("Failed to drop session storage")
	}
}

// Sweep evicts controllers that have been idle longer than the TTL and have
// no open event streams. Locked sessions also lose their storage; unlocked
// ones keep it and are restored on the next request. It returns the number
// of controllers evicted.
func (h *Hub) Sweep(ctx context.Context, now time.Time) int {
	h.mu.Lock()
	var idle []*Controller
	for id, c := range h.controllers {
		if c.Subscribers() > 0 || now.Sub(c.LastSeen()) <= h.idleTTL {
			continue
		}
		idle = append(idle, c)
		delete(h.controllers, id)
	}
	h.mu.Unlock()

	for _, c := range idle {
		locked := !c.Unlocked()
		c.Close()
		if locked {
			if err := h.store.Drop(ctx, c.ID()); err != nil {
				log.Warn().Err(err).Str("session", c.ID()).Msg("Failed to drop session storage")
			}
		}
	}
	if len(idle) > 0 {
		log.Info().Int("evicted", len(idle)).Int("live", h.Len()).Msg("Session sweep")
	}
	return len(idle)
}

// Len returns the number of live controllers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.controllers)
}

// Each calls fn for every live controller.
func (h *Hub) Each(fn func(*Controller)) {
	h.mu.Lock()
	list := make([]*Controller, 0, len(h.controllers))
	for _, c := range h.controllers {
		list = append(list, c)
	}
	h.mu.Unlock()

	for _, c := range list {
		fn(c)
	}
}

// Start runs the idle-session janitor. It blocks until ctx is canceled.
func (h *Hub) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.Info().
		Dur("interval", interval).
		Dur("idle_ttl", h.idleTTL).
		Msg("Session janitor started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session janitor stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx, h.cfg.Clock.Now())
		}
	}
}

// Close tears down every controller. Persisted sessions are left intact.
func (h *Hub) Close() {
	h.mu.Lock()
	list := h.controllers
	h.controllers = make(map[string]*Controller)
	h.closed = true
	h.mu.Unlock()

	for _, c := range list {
		c.Close()
	}
	log.Info().Int("sessions", len(list)).Msg("Dashboard hub closed")
}
