// Package handlers implements the HTTP handlers for the TARS dashboard engine.
// Every handler resolves the caller's controller from the client session id
// set by the session cookie middleware.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/chat"
	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/dashboard"
	"github.com/tars-dashboard/engine/internal/gate"
	pkgmw "github.com/tars-dashboard/engine/pkg/middleware"
)

// KeepAliveInterval is how often an idle event stream sends a comment line.
var KeepAliveInterval = 25 * time.Second

// Handlers holds all handler dependencies.
type Handlers struct {
	Hub   *dashboard.Hub
	Chat  *chat.Composer
	Clock clock.Clock
}

// New creates a new Handlers instance. A nil clk means the wall clock.
func New(hub *dashboard.Hub, composer *chat.Composer, clk clock.Clock) *Handlers {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handlers{Hub: hub, Chat: composer, Clock: clk}
}

func (h *Handlers) controller(r *http.Request) *dashboard.Controller {
	return h.Hub.GetOrCreate(r.Context(), pkgmw.GetSessionID(r.Context()))
}

// Unlocked reports whether the session is unlocked. It backs the gate middleware.
func (h *Handlers) Unlocked(r *http.Request, sessionID string) bool {
	return h.Hub.GetOrCreate(r.Context(), sessionID).Unlocked()
}

// ── Session ──────────────────────────────────────────────────

type unlockRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	Unlocked     bool       `json:"unlocked"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
}

func sessionBody(ctl *dashboard.Controller) sessionResponse {
	if !ctl.Unlocked() {
		return sessionResponse{}
	}
	at := ctl.Session().AuthorizedAt
	return sessionResponse{Unlocked: true, AuthorizedAt: &at}
}

// CreateSession checks the password and unlocks the caller's session.
// POST /api/v1/session
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	ctl := h.controller(r)
	if err := ctl.Unlock(r.Context(), req.Password); err != nil {
		if errors.Is(err, gate.ErrAccessDenied) {
			respondError(w, http.StatusUnauthorized, "access_denied", "ACCESS DENIED")
			return
		}
		respondError(w, http.StatusInternalServerError, "unlock_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sessionBody(ctl))
}

// GetSession reports the caller's lock state, restoring a stored session.
// GET /api/v1/session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sessionBody(h.controller(r)))
}

// DeleteSession locks the caller's session and tears its engine down.
// DELETE /api/v1/session
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := pkgmw.GetSessionID(r.Context())
	if ctl, ok := h.Hub.Get(id); ok {
		ctl.Lock(r.Context())
	}
	h.Hub.Remove(r.Context(), id)
	respondJSON(w, http.StatusOK, sessionResponse{})
}

// ── Dashboard ────────────────────────────────────────────────

// GetDashboard returns the current view: snapshot, insights, clock and sync state.
// GET /api/v1/dashboard
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.controller(r).View())
}

// GetInsights returns the derived insights for the current snapshot.
// GET /api/v1/insights
func (h *Handlers) GetInsights(w http.ResponseWriter, r *http.Request) {
	set := h.controller(r).Insights()
	if set == nil {
		respondError(w, http.StatusNotFound, "not_loaded", "no snapshot loaded yet")
		return
	}
	respondJSON(w, http.StatusOK, set)
}

// Refresh is the manual refresh trigger.
// POST /api/v1/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.controller(r).Refresh(r.Context()) {
		respondJSON(w, http.StatusConflict, map[string]bool{"started": false})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

// SetVisibility records a page visibility change.
// PUT /api/v1/visibility
func (h *Handlers) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if req.Visible == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "visible is required")
		return
	}
	h.controller(r).SetVisible(r.Context(), *req.Visible)
	respondJSON(w, http.StatusOK, map[string]bool{"visible": *req.Visible})
}

// StreamEvents streams renderer events via Server-Sent Events. The current
// view is sent first so a fresh client can paint immediately.
// GET /api/v1/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctl := h.controller(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	ch := ctl.Subscribe()
	defer ctl.Unsubscribe(ch)

	writeEvent(w, "view", ctl.View())
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, string(e.Type), e)
			flusher.Flush()
			if e.Type == dashboard.EventLocked {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("event", name).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// ── Chat ─────────────────────────────────────────────────────

type chatLinkRequest struct {
	Text string `json:"text"`
}

// ChatLink builds a Telegram deep link for the composed text.
// POST /api/v1/chat/link
func (h *Handlers) ChatLink(w http.ResponseWriter, r *http.Request) {
	var req chatLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	msg, err := h.Chat.Compose(req.Text, h.Clock.Now())
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", "message is empty")
		return
	case errors.Is(err, chat.ErrNoBot):
		respondError(w, http.StatusServiceUnavailable, "chat_unconfigured", "no Telegram bot configured")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// ChatHistory lists recently composed messages.
// GET /api/v1/chat/history
func (h *Handlers) ChatHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Chat.History())
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}
