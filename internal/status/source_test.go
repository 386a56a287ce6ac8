package status_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/status"
	"github.com/tars-dashboard/engine/pkg/models"
)

func TestFetch_Success(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	var gotQuery, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("t")
		gotCache = r.Header.Get("Cache-Control")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"memories": 42, "tasks": 2, "emailsIn": -3,
			"systemStatus": {"memoryDb": "online"},
			"resources": [{"name": "CPU Load", "percentage": 140}]}`))
	}))
	defer srv.Close()

	src := status.NewSource(srv.URL+"/api/status.json?v=2", status.WithClock(clock.NewFake(now)))
	res := src.Fetch(context.Background())

	if res.Fallback || res.Err != nil {
		t.Fatalf("Fetch() fallback=%v err=%v, want live data", res.Fallback, res.Err)
	}
	if res.Snapshot.Memories != 42 || res.Snapshot.Tasks != 2 {
		t.Errorf("Snapshot counts = %d/%d, want 42/2", res.Snapshot.Memories, res.Snapshot.Tasks)
	}
	if res.Snapshot.EmailsIn != 0 {
		t.Errorf("negative emailsIn should clamp to 0, got %d", res.Snapshot.EmailsIn)
	}
	if res.Snapshot.Resources[0].Percentage != 100 {
		t.Errorf("percentage should clamp to 100, got %d", res.Snapshot.Resources[0].Percentage)
	}
	if res.Snapshot.RecentActivity == nil || res.Snapshot.Integrations == nil {
		t.Error("absent sections should decode as empty, not nil")
	}
	if gotQuery != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Errorf("cache-buster t = %q, want %d", gotQuery, now.UnixMilli())
	}
	if gotCache != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", gotCache)
	}
}

func TestFetch_FallbackCases(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"memories": `))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := status.NewSource(srv.URL).Fetch(context.Background())
			if !res.Fallback || res.Err == nil {
				t.Fatalf("Fetch() fallback=%v err=%v, want fallback with error", res.Fallback, res.Err)
			}
			assertValidSnapshot(t, res.Snapshot)
		})
	}
}

func TestFetch_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing listens any more

	src := status.NewSource(url, status.WithHTTPClient(&http.Client{Timeout: time.Second}))
	for i := 0; i < 3; i++ {
		res := src.Fetch(context.Background())
		if !res.Fallback {
			t.Fatal("Fetch() against a closed server should fall back")
		}
		assertValidSnapshot(t, res.Snapshot)
	}
}

func TestFetch_BadEndpoint(t *testing.T) {
	res := status.NewSource("://not a url").Fetch(context.Background())
	if !res.Fallback {
		t.Fatal("unparsable endpoint should fall back")
	}
	assertValidSnapshot(t, res.Snapshot)
}

func TestFallback_FreshCopies(t *testing.T) {
	a := status.Fallback()
	b := status.Fallback()
	a.Memories = 0
	a.SystemStatus["memoryDb"] = "offline"
	if b.Memories != 107 || b.SystemStatus["memoryDb"] != "online" {
		t.Error("Fallback() should return independent copies")
	}
}

func TestWatcher_TriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	os.WriteFile(path, []byte(`{}`), 0644)

	var calls atomic.Int32
	fired := make(chan struct{}, 1)
	w := status.NewWatcher(path, 20*time.Millisecond, func() {
		calls.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	// Unrelated files are ignored
	os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644)
	os.WriteFile(path, []byte(`{"memories": 1}`), 0644)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire after writing the status file")
	}
}

func assertValidSnapshot(t *testing.T, s *models.StatusSnapshot) {
	t.Helper()
	if s == nil {
		t.Fatal("snapshot is nil")
	}
	for name, v := range map[string]int{
		"memories": s.Memories, "tasks": s.Tasks, "emailsIn": s.EmailsIn,
		"emailsOut": s.EmailsOut, "deployments": s.Deployments,
	} {
		if v < 0 {
			t.Errorf("%s = %d, want >= 0", name, v)
		}
	}
	if len(s.SystemStatus) == 0 {
		t.Error("fallback snapshot should carry system status")
	}
	if s.RecentActivity == nil || s.Resources == nil || s.Integrations == nil {
		t.Error("fallback snapshot sections should be non-nil")
	}
}
