package application

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/metrics"
	"taskpilot/cli/internal/realtime"
	"taskpilot/cli/internal/session"
)

type backend struct {
	mu      sync.Mutex
	valid   map[string]bool
	tasks   []map[string]any
	conns   []*websocket.Conn
	connsCh chan struct{}
	gets    int
}

func newBackend() *backend {
	return &backend{
		valid:   map[string]bool{},
		connsCh: make(chan struct{}, 16),
		tasks: []map[string]any{
			{"id": "1", "title": "Ship release", "status": "todo", "priority_score": 75, "tags": []string{"work"}},
		},
	}
}

func (b *backend) authorized(r *http.Request) bool {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid[tok]
}

func (b *backend) revokeAll() {
	b.mu.Lock()
	b.valid = map[string]bool{}
	b.mu.Unlock()
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	user := `{"id":"u1","username":"alice","full_name":"Alice","email":"a@example.com","created_at":"2026-01-01T00:00:00"}`
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		tok := fmt.Sprintf("tok-%d", len(b.valid)+1)
		b.valid[tok] = true
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"access_token":"` + tok + `","token_type":"bearer","user":` + user + `}`))
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(user))
	})
	mux.HandleFunc("GET /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.gets++
		_ = json.NewEncoder(w).Encode(b.tasks)
	})
	mux.HandleFunc("GET /v1/realtime", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		b.connsCh <- struct{}{}
		ctx := conn.CloseRead(r.Context())
		<-ctx.Done()
	})
	return mux
}

func (b *backend) push(t *testing.T, typ string) {
	t.Helper()
	b.mu.Lock()
	conns := append([]*websocket.Conn(nil), b.conns...)
	b.mu.Unlock()
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"`+typ+`","payload":{}}`))
		cancel()
	}
}

func (b *backend) addTask(id, status string) {
	b.mu.Lock()
	b.tasks = append(b.tasks, map[string]any{"id": id, "title": "Task " + id, "status": status, "priority_score": 50})
	b.mu.Unlock()
}

func (b *backend) getCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets
}

func startApp(t *testing.T, srvURL, dir string, live bool) *Application {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	app, err := StartApplication(ctx, StartOptions{
		Config: config.Config{
			BaseURL:        srvURL,
			ReconnectDelay: 20 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
		},
		ConfigDir: dir,
		Metrics:   metrics.New(),
		Live:      live,
	})
	if err != nil {
		t.Fatalf("StartApplication failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartApplication_RequiresConfigDir(t *testing.T) {
	if _, err := StartApplication(context.Background(), StartOptions{}); err == nil {
		t.Fatal("expected error without config dir")
	}
}

func TestApplication_LoginSyncsAndPushRefreshes(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()
	app := startApp(t, srv.URL, t.TempDir(), true)

	if _, err := app.Session.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if app.InitialSyncError() != nil {
		t.Fatalf("initial sync failed: %v", app.InitialSyncError())
	}
	if got := app.Tasks.Stats().Total; got != 1 {
		t.Fatalf("expected 1 task after login, got %d", got)
	}

	select {
	case <-b.connsCh:
	case <-time.After(3 * time.Second):
		t.Fatal("realtime channel never connected")
	}
	waitFor(t, "channel connected", func() bool { return app.Channel.State() == realtime.StateConnected })

	b.addTask("2", "done")
	b.push(t, realtime.EventTaskCreated)
	waitFor(t, "push-triggered reload", func() bool { return app.Tasks.Stats().Done == 1 })

	before := b.getCount()
	b.push(t, "presence.ping")
	time.Sleep(50 * time.Millisecond)
	if b.getCount() != before {
		t.Fatal("unknown event types must not trigger a reload")
	}
}

func TestApplication_UnauthorizedTearsDownEverything(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()
	app := startApp(t, srv.URL, t.TempDir(), true)

	var reasons []session.Reason
	var mu sync.Mutex
	app.Session.OnSessionDestroyed(func(r session.Reason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	})

	if _, err := app.Session.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	<-b.connsCh

	b.revokeAll()
	b.push(t, realtime.EventTaskUpdated)

	waitFor(t, "session teardown", func() bool { return app.Session.State() == session.StateAnonymous })
	app.Channel.Wait()
	if app.Channel.State() != realtime.StateDisconnected {
		t.Fatalf("channel should be stopped, got %s", app.Channel.State())
	}
	if app.Tasks.Loaded() || len(app.Tasks.All()) != 0 {
		t.Fatal("task cache should be reset")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != session.ReasonExpired {
		t.Fatalf("expected a single expiry teardown, got %v", reasons)
	}
}

func TestApplication_RestoreAcrossProcesses(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()
	dir := t.TempDir()

	first := startApp(t, srv.URL, dir, false)
	if _, err := first.Session.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	second := startApp(t, srv.URL, dir, false)
	if !second.Restore(context.Background()) {
		t.Fatal("expected persisted session to be restored")
	}
	if s, ok := second.Session.Current(); !ok || s.User.Username != "alice" {
		t.Fatalf("unexpected restored session: %+v", s)
	}
	if second.Tasks.Stats().Total != 1 {
		t.Fatal("restore should trigger the initial reload")
	}
	if second.Channel.State() != realtime.StateDisconnected {
		t.Fatal("channel must stay closed when not live")
	}
}

func TestApplication_RevokedPersistedSessionFallsBackSilently(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()
	dir := t.TempDir()

	first := startApp(t, srv.URL, dir, false)
	if _, err := first.Session.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	_ = first.Shutdown(context.Background())
	b.revokeAll()

	second := startApp(t, srv.URL, dir, false)
	if second.Restore(context.Background()) {
		t.Fatal("revoked session must not restore")
	}
	if second.Session.State() != session.StateAnonymous {
		t.Fatalf("expected anonymous, got %s", second.Session.State())
	}

	third := startApp(t, srv.URL, dir, false)
	if third.Restore(context.Background()) {
		t.Fatal("persisted credential should have been cleared")
	}
}

func TestApplication_RunServesMetricsUntilCancelled(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()

	port := pickFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := StartApplication(ctx, StartOptions{
		Config: config.Config{
			BaseURL:     srv.URL,
			MetricsAddr: fmt.Sprintf("127.0.0.1:%d", port),
		},
		ConfigDir: t.TempDir(),
		Metrics:   metrics.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.Session.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()

	var body string
	waitFor(t, "metrics endpoint", func() bool {
		res, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return false
		}
		defer res.Body.Close()
		raw, _ := io.ReadAll(res.Body)
		body = string(raw)
		return res.StatusCode == http.StatusOK
	})
	for _, want := range []string{"taskpilot_requests_total", "taskpilot_task_reloads_total", "taskpilot_session_transitions_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("run did not exit after cancel")
	}
}
