package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// DefaultPath is read when Load is given no path.
const DefaultPath = "config.yaml"

// EnvPrefix marks environment overrides, e.g. REQPIPE_SERVER__PORT=9000.
const EnvPrefix = "REQPIPE_"

// NeverTimeout is the parsed value of an idle timeout of "never".
const NeverTimeout time.Duration = -1

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Buffers   BuffersConfig   `koanf:"buffers"`
	Idle      IdleConfig      `koanf:"idle"`
	Modules   []ModuleConfig  `koanf:"modules"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	ShutdownTimeout string `koanf:"shutdown_timeout"` // Duration string like "15s"
	RequestTimeout  string `koanf:"request_timeout"`
}

// BuffersConfig sizes the buffer pools. Element counts, not bytes.
type BuffersConfig struct {
	ByteBufferSize int `koanf:"byte_buffer_size"`
	CharBufferSize int `koanf:"char_buffer_size"`
	IntBufferSize  int `koanf:"int_buffer_size"`
	WordBufferSize int `koanf:"word_buffer_size"`
	BaseCapacity   int `koanf:"base_capacity"`
}

type IdleConfig struct {
	Timeout  string `koanf:"timeout"`  // Duration string or "never"
	Interval string `koanf:"interval"` // Evaluation period
}

// ModuleConfig names a registered module type. Modules run in list order.
type ModuleConfig struct {
	Type    string         `koanf:"type"`
	Webhook *WebhookConfig `koanf:"webhook"` // Only for type "webhook"
	APIKey  *APIKeyConfig  `koanf:"apikey"`  // Only for type "apikey"
}

// APIKeyConfig lists the accepted keys of an apikey module. Only SHA-256
// hashes are stored.
type APIKeyConfig struct {
	Keys []APIKeyEntry `koanf:"keys"`
}

type APIKeyEntry struct {
	KeyHash     string `koanf:"key_hash"`
	Principal   string `koanf:"principal"`
	Description string `koanf:"description"`
}

// WebhookConfig configures a webhook module.
type WebhookConfig struct {
	Name    string            `koanf:"name"`
	Stage   string            `koanf:"stage"` // Stage name, e.g. "AuthorizeRequest"
	URL     string            `koanf:"url"`
	Timeout string            `koanf:"timeout"`
	OnError string            `koanf:"on_error"` // "allow" or "deny" (default: deny)
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`

	// BlockPrivate refuses connections to loopback, private and link-local
	// addresses.
	BlockPrivate bool `koanf:"block_private"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultPath when empty), applies REQPIPE_ environment
// overrides and defaults, and validates the result. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)
	for i := range cfg.Modules {
		if w := cfg.Modules[i].Webhook; w != nil {
			w.URL = substituteEnvVars(w.URL)
			for h, v := range w.Headers {
				w.Headers[h] = substituteEnvVars(v)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":              8080,
		"server.shutdown_timeout":  "15s",
		"server.request_timeout":   "60s",
		"buffers.byte_buffer_size": 32 * 1024,
		"buffers.char_buffer_size": 1024,
		"buffers.int_buffer_size":  1024,
		"buffers.word_buffer_size": 1024,
		"buffers.base_capacity":    64,
		"idle.timeout":             "never",
		"idle.interval":            "30s",
		"storage.type":             "memory",
		"telemetry.service_name":   "reqpiped",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
	if !k.Exists("modules") {
		k.Set("modules", []map[string]any{
			{"type": "requestid"},
			{"type": "accesslog"},
		})
	}
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", domain.ErrInvalidArgument, c.Server.Port)
	}
	for name, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.request_timeout":  c.Server.RequestTimeout,
		"idle.interval":           c.Idle.Interval,
	} {
		if _, err := parseDuration(name, v); err != nil {
			return err
		}
	}
	if _, err := c.Idle.TimeoutDuration(); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("%w: storage.sqlite.path is required", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", domain.ErrInvalidArgument, c.Storage.Type)
	}

	for i, m := range c.Modules {
		if m.Type == "" {
			return fmt.Errorf("%w: modules[%d].type is required", domain.ErrInvalidArgument, i)
		}
		if m.Type == "webhook" && (m.Webhook == nil || m.Webhook.URL == "") {
			return fmt.Errorf("%w: modules[%d] webhook requires a url", domain.ErrInvalidArgument, i)
		}
		if m.Type == "apikey" && (m.APIKey == nil || len(m.APIKey.Keys) == 0) {
			return fmt.Errorf("%w: modules[%d] apikey requires at least one key", domain.ErrInvalidArgument, i)
		}
	}
	return nil
}

// TimeoutDuration parses the idle timeout. "never" and "" yield
// NeverTimeout.
func (c IdleConfig) TimeoutDuration() (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(c.Timeout)) {
	case "", "never":
		return NeverTimeout, nil
	}
	d, err := parseDuration("idle.timeout", c.Timeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: idle.timeout must not be negative", domain.ErrInvalidArgument)
	}
	return d, nil
}

// IntervalDuration parses the evaluation period.
func (c IdleConfig) IntervalDuration() time.Duration {
	d, _ := parseDuration("idle.interval", c.Interval)
	return d
}

// ShutdownTimeoutDuration parses the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := parseDuration("server.shutdown_timeout", c.ShutdownTimeout)
	return d
}

// RequestTimeoutDuration parses the per-request timeout applied by the
// HTTP adapter.
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	d, _ := parseDuration("server.request_timeout", c.RequestTimeout)
	return d
}

func parseDuration(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, name, err)
	}
	return d, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
