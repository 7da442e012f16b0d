package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/config"
	"github.com/cybercyphers/cyphbeta/internal/gate"
	"github.com/cybercyphers/cyphbeta/internal/scheduler"
)

func writeSchedules(t *testing.T, recs ...scheduler.Record) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "schedules.json")
	store := scheduler.NewFileStore(path)
	for _, r := range recs {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestSchedulesList(t *testing.T) {
	now := time.Now()
	path := writeSchedules(t,
		scheduler.Record{ID: "p1", Target: "a@s.whatsapp.net", Payload: "one", FireAtMs: now.Add(time.Hour).UnixMilli(), Status: scheduler.Pending},
		scheduler.Record{ID: "s1", Target: "a@s.whatsapp.net", Payload: "two", FireAtMs: now.Add(-time.Hour).UnixMilli(), Status: scheduler.Sent, SentAtMs: now.UnixMilli()},
		scheduler.Record{ID: "p2", Target: "b@s.whatsapp.net", Payload: "three", FireAtMs: now.Add(time.Hour).UnixMilli(), Status: scheduler.Pending},
	)

	out := execute(t, "schedules", "list", "--file", path, "--channel", "a@s.whatsapp.net")
	if !strings.Contains(out, "p1") || !strings.Contains(out, "s1") {
		t.Fatalf("expected both channel-a records, got:\n%s", out)
	}
	if strings.Contains(out, "p2") {
		t.Fatalf("expected channel filter to drop p2, got:\n%s", out)
	}

	out = execute(t, "schedules", "list", "--file", path, "--pending")
	if strings.Contains(out, "s1") || !strings.Contains(out, "p2") {
		t.Fatalf("expected only pending records, got:\n%s", out)
	}
}

func TestSchedulesCleanup(t *testing.T) {
	now := time.Now()
	path := writeSchedules(t,
		scheduler.Record{ID: "old", Target: "a", Payload: "x", FireAtMs: now.Add(-200 * time.Hour).UnixMilli(), Status: scheduler.Sent, SentAtMs: now.Add(-200 * time.Hour).UnixMilli()},
		scheduler.Record{ID: "recent", Target: "a", Payload: "y", FireAtMs: now.Add(-time.Hour).UnixMilli(), Status: scheduler.Sent, SentAtMs: now.Add(-time.Hour).UnixMilli()},
		scheduler.Record{ID: "future", Target: "a", Payload: "z", FireAtMs: now.Add(time.Hour).UnixMilli(), Status: scheduler.Pending},
	)

	out := execute(t, "schedules", "cleanup", "--file", path)
	if !strings.Contains(out, "removed 1 record(s)") {
		t.Fatalf("unexpected output: %q", out)
	}

	recs, err := scheduler.NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records left, got %d", len(recs))
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "schedules"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (err=%v)", name, c, err)
		}
	}
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()

	return &config.Config{
		Server:  config.ServerConfig{Address: "127.0.0.1:0"},
		Gateway: config.GatewayConfig{URL: "http://127.0.0.1:1", DialTimeout: time.Second},
		Paths: config.PathsConfig{
			StateDir:  dir,
			AuthDir:   filepath.Join(dir, "auth_info"),
			Settings:  filepath.Join(dir, "config.json"),
			AllowList: filepath.Join(dir, "allowed_users.json"),
			Schedules: filepath.Join(dir, "data", "schedules.json"),
		},
		Reconnect: config.ReconnectConfig{Base: 2 * time.Second, Step: time.Second, Cap: 15 * time.Second, Budget: 20, Fallback: 5 * time.Second},
		Schedule:  config.ScheduleConfig{Retention: 168 * time.Hour, SweepInterval: time.Hour},
		Delivery:  config.DeliveryConfig{RatePerSecond: 5, Burst: 10, ContentMax: 4096},
		Log:       config.LogConfig{Level: "info", Format: "text"},
	}
}

func writeSettings(t *testing.T, dir string, v map[string]any) {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApp_RejectsMissingPhone(t *testing.T) {
	dir := t.TempDir()

	_, err := newApp(context.Background(), testConfig(t, dir), quietLogger())
	if err == nil {
		t.Fatalf("expected error for empty phone_number")
	}
	if !strings.Contains(err.Error(), "phone_number") {
		t.Fatalf("expected error mentioning phone_number, got: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "config.json")); statErr != nil {
		t.Fatalf("expected default settings file to be created: %v", statErr)
	}
}

func TestNewApp_GateFollowsSettings(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, map[string]any{"phone_number": "233200000000", "mode": "private"})

	a, err := newApp(context.Background(), testConfig(t, dir), quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	cfg := a.gateConfig()
	if cfg.Mode != gate.ModePrivate {
		t.Fatalf("expected private mode, got %q", cfg.Mode)
	}
	if cfg.Owner != "233200000000" {
		t.Fatalf("expected owner from settings, got %q", cfg.Owner)
	}
	if !gate.Allow(cfg, "233200000000@s.whatsapp.net") {
		t.Fatalf("expected owner to be allowed")
	}
	if gate.Allow(cfg, "233299999999@s.whatsapp.net") {
		t.Fatalf("expected stranger to be denied")
	}
}

func TestNewApp_OnOpenArmsPersistedSchedules(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, map[string]any{"phone_number": "233200000000"})

	cfg := testConfig(t, dir)
	store := scheduler.NewFileStore(cfg.Paths.Schedules)
	rec := scheduler.Record{ID: "later", Target: "a@s.whatsapp.net", Payload: "hi", FireAtMs: time.Now().Add(time.Hour).UnixMilli(), Status: scheduler.Pending}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	a, err := newApp(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	a.onOpen(context.Background())
	a.onOpen(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !a.sched.Armed("later") {
		if time.Now().After(deadline) {
			t.Fatalf("expected persisted schedule to be armed after open")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
