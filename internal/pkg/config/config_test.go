package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Buffers.ByteBufferSize != 32*1024 || cfg.Buffers.BaseCapacity != 64 {
		t.Errorf("Load() buffers = %+v", cfg.Buffers)
	}
	if d, _ := cfg.Idle.TimeoutDuration(); d != NeverTimeout {
		t.Errorf("idle timeout = %v, want never", d)
	}
	if cfg.Idle.IntervalDuration() != 30*time.Second {
		t.Errorf("idle interval = %v", cfg.Idle.IntervalDuration())
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q", cfg.Storage.Type)
	}

	var types []string
	for _, m := range cfg.Modules {
		types = append(types, m.Type)
	}
	if diff := cmp.Diff([]string{"requestid", "accesslog"}, types); diff != "" {
		t.Errorf("default modules (-want +got):\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "secret")
	path := writeConfig(t, `
server:
  port: 9090
  shutdown_timeout: 5s
idle:
  timeout: 20m
modules:
  - type: requestid
  - type: webhook
    webhook:
      name: policy
      stage: AuthorizeRequest
      url: http://localhost:9999/hook
      headers:
        Authorization: Bearer ${HOOK_TOKEN}
storage:
  type: sqlite
  sqlite:
    path: /tmp/reqpipe.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.ShutdownTimeoutDuration() != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if d, _ := cfg.Idle.TimeoutDuration(); d != 20*time.Minute {
		t.Errorf("idle timeout = %v", d)
	}
	if len(cfg.Modules) != 2 || cfg.Modules[1].Webhook == nil {
		t.Fatalf("modules = %+v", cfg.Modules)
	}
	if got := cfg.Modules[1].Webhook.Headers["Authorization"]; got != "Bearer secret" {
		t.Errorf("substituted header = %q", got)
	}
	if cfg.Storage.SQLite.Path != "/tmp/reqpipe.db" {
		t.Errorf("sqlite path = %q", cfg.Storage.SQLite.Path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REQPIPE_SERVER__PORT", "9000")
	t.Setenv("REQPIPE_IDLE__TIMEOUT", "45s")

	cfg, err := Load(writeConfig(t, "server:\n  port: 7000\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
	}
	if d, _ := cfg.Idle.TimeoutDuration(); d != 45*time.Second {
		t.Errorf("idle timeout = %v, want 45s", d)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad idle timeout", body: "idle:\n  timeout: soon\n"},
		{name: "unknown storage", body: "storage:\n  type: postgres\n"},
		{name: "sqlite without path", body: "storage:\n  type: sqlite\n"},
		{name: "module without type", body: "modules:\n  - webhook:\n      url: http://x\n"},
		{name: "webhook without url", body: "modules:\n  - type: webhook\n"},
		{name: "port out of range", body: "server:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !domain.IsInvalidArgument(err) {
				t.Errorf("Load() error = %v, want invalid argument", err)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
