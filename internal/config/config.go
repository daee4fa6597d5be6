// Package config loads the sitememo configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Backup    BackupConfig    `json:"backup" yaml:"backup"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// GatewayConfig configures the WebSocket/HTTP gateway.
type GatewayConfig struct {
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"` // shared secret checked on connect; empty disables auth

	// AllowedOrigins restricts the WebSocket Origin header (e.g. "chrome-extension://<id>").
	// Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`

	RateLimitRPM   int `json:"rate_limit_rpm" yaml:"rate_limit_rpm"` // per client; 0 disables
	RateLimitBurst int `json:"rate_limit_burst" yaml:"rate_limit_burst"`

	ReplayCacheSize int `json:"replay_cache_size" yaml:"replay_cache_size"`
	ReplayTTLSec    int `json:"replay_ttl_sec" yaml:"replay_ttl_sec"`

	MaxMessageBytes int64 `json:"max_message_bytes" yaml:"max_message_bytes"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// ReplayTTL returns the replay cache TTL.
func (g GatewayConfig) ReplayTTL() time.Duration {
	return time.Duration(g.ReplayTTLSec) * time.Second
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	// DSN: memory://, file://<dir>, sqlite://<path>, postgres://..., redis://...
	DSN         string `json:"dsn" yaml:"dsn"`
	Table       string `json:"table,omitempty" yaml:"table,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`

	// Profile separates independent data sets sharing one backend.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Area returns the namespace for a base area ("local" or "sync") under
// the configured profile.
func (s StorageConfig) Area(base string) string {
	p := NormalizeProfile(s.Profile)
	if p == DefaultProfile {
		return base
	}
	return p + "." + base
}

// BackupConfig configures scheduled snapshots and encryption at rest.
type BackupConfig struct {
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // 5-field cron; empty disables
	Dir      string `json:"dir" yaml:"dir"`
	Keep     int    `json:"keep" yaml:"keep"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18790,
			RateLimitRPM:    600,
			RateLimitBurst:  30,
			ReplayCacheSize: 1024,
			ReplayTTLSec:    120,
			MaxMessageBytes: 512 * 1024,
		},
		Storage: StorageConfig{
			DSN: "sqlite://~/.sitememo/sitememo.db",
		},
		Backup: BackupConfig{
			Dir:  "~/.sitememo/backups",
			Keep: 7,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "sitememo",
		},
	}
}

// Load reads path on top of the defaults. JSON5 is the default format;
// .yaml and .yml files are parsed as YAML. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		cfg.ApplyEnvOverrides()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON (valid JSON5).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol: want grpc or http, got %q", c.Telemetry.Protocol)
	}
	if c.Backup.Keep < 0 {
		return fmt.Errorf("backup.keep must not be negative")
	}
	return nil
}

// ApplyEnvOverrides applies SITEMEMO_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envStr("SITEMEMO_HOST", &c.Gateway.Host)
	envInt("SITEMEMO_PORT", &c.Gateway.Port)
	envStr("SITEMEMO_GATEWAY_TOKEN", &c.Gateway.Token)
	envInt("SITEMEMO_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)

	envStr("SITEMEMO_STORE_DSN", &c.Storage.DSN)
	envStr("SITEMEMO_PROFILE", &c.Storage.Profile)

	envStr("SITEMEMO_BACKUP_SCHEDULE", &c.Backup.Schedule)
	envStr("SITEMEMO_BACKUP_DIR", &c.Backup.Dir)
	envStr("SITEMEMO_BACKUP_KEY", &c.Backup.Key)

	envStr("SITEMEMO_LOG_LEVEL", &c.Log.Level)
	envStr("SITEMEMO_LOG_FORMAT", &c.Log.Format)

	envBool("SITEMEMO_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("SITEMEMO_OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SITEMEMO_OTEL_PROTOCOL", &c.Telemetry.Protocol)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// ExpandDSN expands ~ in the path part of file:// and sqlite:// DSNs.
func ExpandDSN(dsn string) string {
	for _, scheme := range []string{"file://", "sqlite://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return scheme + ExpandHome(rest)
		}
	}
	return dsn
}
