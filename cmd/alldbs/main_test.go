package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sydlexius/alldbs/internal/config"
	"github.com/sydlexius/alldbs/internal/logging"
	"github.com/sydlexius/alldbs/internal/registry"
	"golang.org/x/crypto/bcrypt"
)

// writeTestConfig points the registry and adapters at a temp directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "alldbs.db") + "\n" +
		"client:\n  data_dir: " + filepath.Join(dir, "dbs") + "\n" +
		"logging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, configPath string, keys ...string) {
	t.Helper()
	env, err := openCLI(configPath, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("openCLI: %v", err)
	}
	defer env.Close()
	for _, k := range keys {
		if err := env.reg.Add(context.Background(), k); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seed(t, cfgPath, "b", "sqlite://a")

	out, err := execute(t, "", "--config", cfgPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "b\nsqlite://a\n" {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "", "--config", cfgPath, "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var entries []registry.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(entries) != 2 || entries[1].Selector != "sqlite" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestResetCommand_RequiresConfirmation(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seed(t, cfgPath, "a")

	if _, err := execute(t, "", "--config", cfgPath, "reset"); err == nil {
		t.Fatal("expected reset without --yes to fail")
	}
	out, _ := execute(t, "", "--config", cfgPath, "list")
	if out != "a\n" {
		t.Fatalf("registry changed without confirmation: %q", out)
	}

	if _, err := execute(t, "", "--config", cfgPath, "reset", "--yes"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, _ = execute(t, "", "--config", cfgPath, "list")
	if out != "" {
		t.Errorf("list after reset = %q, want empty", out)
	}
}

func TestExportImportCommands(t *testing.T) {
	src := writeTestConfig(t)
	seed(t, src, "one", "memory://two")
	manifestPath := filepath.Join(t.TempDir(), "registry.json")

	if _, err := execute(t, "", "--config", src, "export", manifestPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := writeTestConfig(t)
	out, err := execute(t, "", "--config", dst, "import", manifestPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 2") {
		t.Errorf("import output = %q", out)
	}
	out, _ = execute(t, "", "--config", dst, "list")
	if out != "one\nmemory://two\n" {
		t.Errorf("imported list = %q", out)
	}
}

func TestBackupCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)
	seed(t, cfgPath, "a", "b")

	out, err := execute(t, "", "--config", cfgPath, "backup")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	filename := strings.Fields(out)[0]

	out, err = execute(t, "", "--config", cfgPath, "backup", "list")
	if err != nil {
		t.Fatalf("backup list: %v", err)
	}
	if !strings.Contains(out, filename) {
		t.Errorf("backup list missing %s: %q", filename, out)
	}

	out, err = execute(t, "", "--config", cfgPath, "backup", "show", filename)
	if err != nil {
		t.Fatalf("backup show: %v", err)
	}
	if out != "a\nb\n" {
		t.Errorf("backup keys = %q", out)
	}
}

func TestHashTokenCommand(t *testing.T) {
	out, err := execute(t, "s3cret\n", "hash-token", "--cost", "4")
	if err != nil {
		t.Fatalf("hash-token: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match token: %v", err)
	}

	if _, err := execute(t, "\n", "hash-token"); err == nil {
		t.Error("expected empty token to be rejected")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "alldbs ") {
		t.Errorf("output = %q", out)
	}
}

func TestApplyConfig(t *testing.T) {
	cfgPath := writeTestConfig(t)
	env, err := openCLI(cfgPath, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	logs, logger := logging.NewManagerWithWriter(logging.Config{Level: "info", Format: "text"}, &bytes.Buffer{})
	defer logs.Close() //nolint:errcheck

	next := config.Default()
	next.Logging.Level = "debug"
	next.Logging.Format = "text"
	next.Registry.ConflictPolicy = string(registry.AddWins)
	applyConfig(next, logs, env.reg, logger)

	if logs.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", logs.Level())
	}
	if env.reg.Policy() != registry.AddWins {
		t.Errorf("policy = %q, want add-wins", env.reg.Policy())
	}
}
