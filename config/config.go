// Package config loads the dispatchd configuration from a yaml or json
// file, with DISPATCHD_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fleetglide/dispatchd/core/alert"
	"github.com/fleetglide/dispatchd/core/assign"
	"github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/notify"
	"github.com/fleetglide/dispatchd/core/reopt"
	"github.com/fleetglide/dispatchd/infra/mqtt"
)

type Config struct {
	MQTT       mqtt.Config    `json:"mqtt"`
	Ingest     IngestConfig   `json:"ingest"`
	Alerts     alert.Config   `json:"alerts"`
	Assignment assign.Config  `json:"assignment"`
	Reopt      reopt.Config   `json:"reopt"`
	Notify     notify.Config  `json:"notify"`
	Metrics    metrics.Config `json:"metrics"`
	Audit      AuditConfig    `json:"audit"`
	API        APIConfig      `json:"api"`
}

// IngestConfig parameterizes the telemetry ingest path and staleness
// tracking in the live state store.
type IngestConfig struct {
	// QueueSize bounds the inbound telemetry channel. Default 1024.
	QueueSize int `json:"queue_size"`
	// StaleAfterSeconds marks a vehicle stale when no telemetry was
	// applied for this long. Default 300 (5 minutes).
	StaleAfterSeconds int `json:"stale_after_seconds"`
}

// SetDefaults applies sane defaults.
func (c *IngestConfig) SetDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.StaleAfterSeconds <= 0 {
		c.StaleAfterSeconds = 300
	}
}

// StaleAfter returns the staleness horizon as a duration.
func (c IngestConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// AuditConfig selects the alert audit trail backend.
type AuditConfig struct {
	// Backend selects the store type: "jsonl", "sqlite" or "memory".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *AuditConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "alert_trail.log"
	}
}

// Validate checks mandatory fields.
func (c AuditConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if c.Backend != "memory" && c.Path == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}

// APIConfig parameterizes the HTTP surface.
type APIConfig struct {
	// Addr is the listen address of the query/action API. Default :8080.
	Addr string `json:"addr"`
	// ShutdownGraceSeconds bounds graceful shutdown. Default 5.
	ShutdownGraceSeconds int `json:"shutdown_grace_seconds"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownGraceSeconds <= 0 {
		c.ShutdownGraceSeconds = 5
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("DISPATCHD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "dispatchd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Ingest.SetDefaults()
	cfg.Alerts.SetDefaults()
	cfg.Assignment.SetDefaults()
	cfg.Reopt.SetDefaults()
	cfg.Notify.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Audit.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
