package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sydlexius/alldbs/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string) <-chan *config.Config {
	t.Helper()
	applied := make(chan *config.Config, 4)
	w := NewConfigWatcher(path, func(cfg *config.Config) { applied <- cfg }, testLogger())
	w.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(ctx); err != nil {
			t.Errorf("Start: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond) // let watcher initialize
	return applied
}

func TestConfigChangeIsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "logging:\n  level: info\n")
	applied := startWatcher(t, path)

	writeConfig(t, path, "logging:\n  level: debug\n")

	select {
	case cfg := <-applied:
		if cfg.Logging.Level != "debug" {
			t.Errorf("level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not applied")
	}
}

func TestRapidWritesCoalesce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "logging:\n  level: info\n")
	applied := startWatcher(t, path)

	for _, lvl := range []string{"warn", "error", "debug"} {
		writeConfig(t, path, "logging:\n  level: "+lvl+"\n")
	}

	select {
	case cfg := <-applied:
		if cfg.Logging.Level != "debug" {
			t.Errorf("level = %q, want the last written value", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not applied")
	}

	select {
	case <-applied:
		t.Error("expected a single coalesced reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestInvalidConfigIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  port: 5985\n")
	applied := startWatcher(t, path)

	writeConfig(t, path, "server:\n  port: 0\n")

	select {
	case <-applied:
		t.Fatal("invalid config should not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOtherFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "logging:\n  level: info\n")
	applied := startWatcher(t, path)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "logging:\n  level: debug\n")

	select {
	case <-applied:
		t.Fatal("changes to other files should be ignored")
	case <-time.After(300 * time.Millisecond):
	}
}
