// Package config loads and validates the gateway configuration.
//
// DESIGN: All configuration comes from a YAML file. Required knobs have no
// defaults so deployments stay explicit and auditable; only cosmetic
// settings (logging, sweep interval) fall back to sensible values.
// ${VAR} and ${VAR:-default} substitutions are expanded before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/turn-gateway/internal/monitoring"
)

// Config is the root configuration for the turn gateway.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Upstream UpstreamConfig          `yaml:"upstream"`
	Sessions SessionsConfig          `yaml:"sessions"`
	Tools    ToolsConfig             `yaml:"tools"`
	Audit    AuditConfig             `yaml:"audit"`
	Logging  monitoring.LoggerConfig `yaml:"logging"`
	Models   []string                `yaml:"models"`
}

// ServerConfig contains HTTP server settings. There is no write timeout
// knob: a server-wide write deadline would sever long-lived SSE responses,
// so response lifetimes are governed by the upstream call instead.
type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"` // 0 disables
}

// UpstreamConfig identifies the stateful conversation service.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"` // non-streaming calls only
}

// SessionsConfig governs session lifetime and eviction.
type SessionsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ToolsConfig governs tool-call transcoding.
type ToolsConfig struct {
	// Enabled gates tag decoding globally; per-request it additionally
	// requires a non-empty tools array.
	Enabled bool `yaml:"enabled"`
}

// AuditConfig governs the sqlite request/response trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// envVar matches ${VAR} and ${VAR:-default}.
var envVar = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandEnv(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVar.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = 5 * time.Minute
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 2 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Sessions.TTL == 0 {
		return fmt.Errorf("sessions.ttl is required")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	return nil
}
