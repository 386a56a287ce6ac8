package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tars-dashboard/engine/internal/api"
	"github.com/tars-dashboard/engine/internal/api/handlers"
	"github.com/tars-dashboard/engine/internal/chat"
	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/config"
	"github.com/tars-dashboard/engine/internal/dashboard"
	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/internal/status"
	"github.com/tars-dashboard/engine/pkg/models"
)

type countingFetcher struct{ calls atomic.Int32 }

func (f *countingFetcher) Fetch(ctx context.Context) status.Result {
	f.calls.Add(1)
	return status.Result{
		Snapshot: &models.StatusSnapshot{
			Memories:     321,
			Tasks:        2,
			SystemStatus: map[string]string{"memoryDb": "online", "telegramBot": "offline"},
		},
		FetchedAt: time.Now(),
	}
}

var chatTime = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type testClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newTestServer(t *testing.T) (*testClient, *countingFetcher) {
	t.Helper()
	cfg := config.Defaults()
	fetcher := &countingFetcher{}
	hub := dashboard.NewHub(sessions.NewMemoryStore(), fetcher, dashboard.Config{
		Secret: cfg.Dashboard.Password,
	}, time.Hour)
	h := handlers.New(hub, chat.NewComposer("tars_bot"), clock.NewFake(chatTime))

	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testClient{t: t, base: srv.URL, client: &http.Client{Jar: jar, Timeout: 10 * time.Second}}, fetcher
}

func (c *testClient) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		c.t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestHealthAndVersion(t *testing.T) {
	c, _ := newTestServer(t)
	if code, body := c.do(http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("GET /health = %d %v", code, body)
	}
	if code, body := c.do(http.MethodGet, "/version", ""); code != http.StatusOK || body["version"] == "" {
		t.Errorf("GET /version = %d %v", code, body)
	}
}

func TestGatedRoutesRequireUnlock(t *testing.T) {
	c, fetcher := newTestServer(t)

	for _, rt := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/dashboard", ""},
		{http.MethodGet, "/api/v1/insights", ""},
		{http.MethodPost, "/api/v1/refresh", ""},
		{http.MethodPut, "/api/v1/visibility", `{"visible":false}`},
		{http.MethodGet, "/api/v1/events", ""},
		{http.MethodPost, "/api/v1/chat/link", `{"text":"hi"}`},
	} {
		code, body := c.do(rt.method, rt.path, rt.body)
		if code != http.StatusUnauthorized {
			t.Errorf("%s %s while locked = %d, want 401", rt.method, rt.path, code)
		}
		if body["error"] != "session_locked" {
			t.Errorf("%s %s error = %v", rt.method, rt.path, body["error"])
		}
	}
	if fetcher.calls.Load() != 0 {
		t.Error("locked session must not poll")
	}
}

func TestSessionLifecycle(t *testing.T) {
	c, fetcher := newTestServer(t)

	if code, body := c.do(http.MethodGet, "/api/v1/session", ""); code != http.StatusOK || body["unlocked"] != false {
		t.Fatalf("GET /session = %d %v, want locked", code, body)
	}

	code, body := c.do(http.MethodPost, "/api/v1/session", `{"password":"wrong"}`)
	if code != http.StatusUnauthorized || body["error"] != "access_denied" || body["message"] != "ACCESS DENIED" {
		t.Fatalf("wrong password = %d %v", code, body)
	}

	if code, _ := c.do(http.MethodPost, "/api/v1/session", `not json`); code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", code)
	}

	code, body = c.do(http.MethodPost, "/api/v1/session", `{"password":" harsha_tars "}`)
	if code != http.StatusOK || body["unlocked"] != true || body["authorized_at"] == nil {
		t.Fatalf("correct password = %d %v", code, body)
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("unlock should load immediately, fetches = %d", fetcher.calls.Load())
	}

	code, body = c.do(http.MethodGet, "/api/v1/dashboard", "")
	if code != http.StatusOK {
		t.Fatalf("GET /dashboard = %d", code)
	}
	snap, _ := body["snapshot"].(map[string]any)
	if snap == nil || snap["memories"] != float64(321) {
		t.Errorf("dashboard snapshot = %v", body["snapshot"])
	}
	if body["connected"] != true || body["last_sync"] == "" {
		t.Errorf("dashboard sync state = %v / %v", body["connected"], body["last_sync"])
	}

	code, body = c.do(http.MethodGet, "/api/v1/insights", "")
	if code != http.StatusOK {
		t.Fatalf("GET /insights = %d", code)
	}
	health, _ := body["health"].(map[string]any)
	if health["value"] != "50%" || health["context"] != "Telegram Bot offline" || health["priority"] != "high" {
		t.Errorf("health insight = %v", health)
	}
	if body["aggregate"] != "high" {
		t.Errorf("aggregate = %v, want high", body["aggregate"])
	}

	if code, body := c.do(http.MethodDelete, "/api/v1/session", ""); code != http.StatusOK || body["unlocked"] != false {
		t.Fatalf("DELETE /session = %d %v", code, body)
	}
	if code, _ := c.do(http.MethodGet, "/api/v1/dashboard", ""); code != http.StatusUnauthorized {
		t.Errorf("dashboard after logout = %d, want 401", code)
	}
}

func TestRefreshAndVisibility(t *testing.T) {
	c, _ := newTestServer(t)
	c.do(http.MethodPost, "/api/v1/session", `{"password":"harsha_tars"}`)

	if code, body := c.do(http.MethodPost, "/api/v1/refresh", ""); code != http.StatusAccepted || body["started"] != true {
		t.Errorf("first refresh = %d %v, want 202", code, body)
	}
	if code, body := c.do(http.MethodPost, "/api/v1/refresh", ""); code != http.StatusConflict || body["started"] != false {
		t.Errorf("refresh during cooldown = %d %v, want 409", code, body)
	}

	if code, body := c.do(http.MethodPut, "/api/v1/visibility", `{"visible":false}`); code != http.StatusOK || body["visible"] != false {
		t.Errorf("hide = %d %v", code, body)
	}
	if code, _ := c.do(http.MethodPut, "/api/v1/visibility", `{}`); code != http.StatusBadRequest {
		t.Errorf("visibility without field = %d, want 400", code)
	}
	_, body := c.do(http.MethodGet, "/api/v1/dashboard", "")
	if body["visible"] != false {
		t.Errorf("dashboard visible = %v, want false", body["visible"])
	}
}

func TestChatLink(t *testing.T) {
	c, _ := newTestServer(t)
	c.do(http.MethodPost, "/api/v1/session", `{"password":"harsha_tars"}`)

	code, body := c.do(http.MethodPost, "/api/v1/chat/link", `{"text":"deploy status?"}`)
	if code != http.StatusOK || body["url"] != "https://t.me/tars_bot?text=deploy%20status%3F" {
		t.Errorf("chat link = %d %v", code, body)
	}
	if body["timestamp"] != chatTime.Format(time.RFC3339) {
		t.Errorf("chat timestamp = %v, want %s", body["timestamp"], chatTime.Format(time.RFC3339))
	}

	resp, err := c.client.Get(c.base + "/api/v1/chat/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || !history[0].Timestamp.Equal(chatTime) {
		t.Errorf("history = %+v, want one message stamped %s", history, chatTime)
	}

	if code, body := c.do(http.MethodPost, "/api/v1/chat/link", `{"text":"   "}`); code != http.StatusBadRequest || body["error"] != "empty_message" {
		t.Errorf("empty chat = %d %v", code, body)
	}
}

func TestEventStream(t *testing.T) {
	c, _ := newTestServer(t)
	c.do(http.MethodPost, "/api/v1/session", `{"password":"harsha_tars"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/events", nil)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	if name, data := readEvent(); name != "view" || !strings.Contains(data, `"memories":321`) {
		t.Fatalf("first event = %s %s, want the current view", name, data)
	}

	// A refresh publishes a snapshot replacement to the open stream
	go func() {
		if resp, err := c.client.Post(c.base+"/api/v1/refresh", "application/json", nil); err == nil {
			resp.Body.Close()
		}
	}()
	if name, _ := readEvent(); name != string(dashboard.EventSnapshotReplaced) {
		t.Errorf("event after refresh = %s, want %s", name, dashboard.EventSnapshotReplaced)
	}
}
