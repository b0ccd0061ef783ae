package global

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigStore_LoadOrInit_CreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected default base url: %s", cfg.Server.BaseURL)
	}
	if cfg.ReconnectDelay() != 3*time.Second {
		t.Fatalf("unexpected default reconnect delay: %s", cfg.ReconnectDelay())
	}

	b, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("read config.toml failed: %v", err)
	}
	text := string(b)
	for _, want := range []string{"[server]", "[realtime]", "[output]", "reconnect_delay_ms = 3000"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in toml, got: %s", want, text)
		}
	}
	if strings.Contains(text, "realtime_url") {
		t.Fatalf("empty realtime_url should be omitted, got: %s", text)
	}
}

func TestConfigStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	in := GlobalConfig{
		Server:   ServerConfig{BaseURL: "https://tasks.example.com/", RealtimeURL: "wss://push.example.com/v1/realtime"},
		Realtime: RealtimeConfig{ReconnectDelayMS: 1500},
		Output:   OutputConfig{Format: "JSON"},
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.Server.BaseURL != "https://tasks.example.com" {
		t.Fatalf("unexpected base url: %s", got.Server.BaseURL)
	}
	if got.Server.RealtimeURL != "wss://push.example.com/v1/realtime" {
		t.Fatalf("unexpected realtime url: %s", got.Server.RealtimeURL)
	}
	if got.ReconnectDelay() != 1500*time.Millisecond {
		t.Fatalf("unexpected reconnect delay: %s", got.ReconnectDelay())
	}
	if got.Output.Format != "json" {
		t.Fatalf("unexpected format: %s", got.Output.Format)
	}
}

func TestConfigStore_NormalizesInvalidValues(t *testing.T) {
	dir := t.TempDir()
	raw := "[server]\nbase_url = 'ftp://nope'\nrealtime_url = 'http://not-ws'\n[realtime]\nreconnect_delay_ms = -5\n[output]\nformat = 'xml'\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := NewConfigStore(dir).LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit failed: %v", err)
	}
	if got.Server.BaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("invalid base url should fall back, got %s", got.Server.BaseURL)
	}
	if got.Server.RealtimeURL != "" {
		t.Fatalf("non-ws realtime url should be dropped, got %s", got.Server.RealtimeURL)
	}
	if got.Realtime.ReconnectDelayMS != 3000 {
		t.Fatalf("negative delay should fall back, got %d", got.Realtime.ReconnectDelayMS)
	}
	if got.Output.Format != "table" {
		t.Fatalf("unknown format should fall back, got %s", got.Output.Format)
	}
}
