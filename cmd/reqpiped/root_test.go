package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/storage/sqldb"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	if cmd.Use != "reqpiped" {
		t.Errorf("expected use 'reqpiped', got %q", cmd.Use)
	}
	if cmd.Version == "" {
		t.Error("expected non-empty version")
	}

	flag := cmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("expected config flag")
	}
	if flag.DefValue != "config.yaml" {
		t.Errorf("expected default 'config.yaml', got %q", flag.DefValue)
	}

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "logs", "modules", "keygen"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestModulesCmd(t *testing.T) {
	out, err := execute(t, "modules")
	if err != nil {
		t.Fatalf("modules error = %v", err)
	}
	for _, want := range []string{"TYPE", "accesslog", "apikey", "requestid", "requestlog", "webhook"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "logs.db")

	store, err := sqldb.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, e := range []*domain.RequestLog{
		{ID: "ok-1", Method: "GET", Path: "/a", Status: 200, Sends: 1, CreatedAt: base},
		{ID: "fail-1", Method: "POST", Path: "/b", Status: 403, Sends: 1, CreatedAt: base.Add(time.Second),
			FailedStage: "AuthorizeRequest", Error: "denied"},
	} {
		if err := store.SaveRequestLog(context.Background(), e); err != nil {
			t.Fatalf("SaveRequestLog() error = %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "storage:\n  type: sqlite\n  sqlite:\n    path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cfgPath
}

func TestLogsCmd_List(t *testing.T) {
	cfgPath := seedStore(t)

	out, err := execute(t, "logs", "--config", cfgPath)
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", out)
	}
	if !strings.Contains(lines[1], "fail-1") || !strings.Contains(lines[1], "AuthorizeRequest: denied") {
		t.Errorf("newest entry should come first, got %q", lines[1])
	}

	out, err = execute(t, "logs", "--config", cfgPath, "--failed")
	if err != nil {
		t.Fatalf("logs --failed error = %v", err)
	}
	if strings.Contains(out, "ok-1") || !strings.Contains(out, "fail-1") {
		t.Errorf("--failed output:\n%s", out)
	}
}

func TestLogsCmd_GetJSON(t *testing.T) {
	cfgPath := seedStore(t)

	out, err := execute(t, "logs", "--config", cfgPath, "--json", "ok-1")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	var got domain.RequestLog
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if got.ID != "ok-1" || got.Status != 200 || got.Path != "/a" {
		t.Errorf("logs ok-1 = %+v", got)
	}

	if _, err := execute(t, "logs", "--config", cfgPath, "missing"); !cerrdefs.IsNotFound(err) {
		t.Errorf("logs missing error = %v, want not found", err)
	}
}

func TestLogsCmd_StorageDisabled(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  type: none\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := execute(t, "logs", "--config", cfgPath); !domain.IsInvalidState(err) {
		t.Errorf("logs error = %v, want invalid state", err)
	}
}

func TestKeygenCmd(t *testing.T) {
	out, err := execute(t, "keygen", "test", "--principal", "ci")
	if err != nil {
		t.Fatalf("keygen error = %v", err)
	}
	for _, want := range []string{
		"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		`principal: "ci"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "keygen")
	if err != nil {
		t.Fatalf("keygen error = %v", err)
	}
	if !strings.Contains(out, "API Key: rp-") {
		t.Errorf("generated key missing prefix:\n%s", out)
	}
}
