package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "dispatchd"
  username: "user"
  password: "pass"
  telemetry_topic: "fleet/+/telemetry"
  use_tls: false
ingest:
  queue_size: 512
  stale_after_seconds: 120
alerts:
  critical_ack_seconds: 30
  rules:
    speed_limit_mph: 75
assignment:
  accept_window_seconds: 300
reopt:
  eta_drift_minutes: 20
notify:
  backlog: 32
metrics:
  prometheus_enabled: true
  prometheus_port: ":2112"
audit:
  backend: "sqlite"
  path: "trail.db"
api:
  addr: ":8088"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "dispatchd"},
		{"telemetry_topic", cfg.MQTT.TelemetryTopic, "fleet/+/telemetry"},
		{"queue_size", cfg.Ingest.QueueSize, 512},
		{"stale_after", cfg.Ingest.StaleAfter(), 2 * time.Minute},
		{"critical_ack", cfg.Alerts.CriticalAckSeconds, 30},
		{"speed_limit", cfg.Alerts.Rules.SpeedLimitMPH, 75.0},
		{"accept_window", cfg.Assignment.AcceptWindowSeconds, 300},
		{"eta_drift", cfg.Reopt.EtaDriftMinutes, 20},
		{"backlog", cfg.Notify.Backlog, 32},
		{"prom_enabled", cfg.Metrics.PrometheusEnabled, true},
		{"prom_port", cfg.Metrics.PrometheusPort, ":2112"},
		{"audit_backend", cfg.Audit.Backend, "sqlite"},
		{"api_addr", cfg.API.Addr, ":8088"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"mqtt":{"broker":"tcp://localhost:1883"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Ingest.QueueSize != 1024 {
		t.Errorf("queue_size default = %d", cfg.Ingest.QueueSize)
	}
	if cfg.Ingest.StaleAfter() != 5*time.Minute {
		t.Errorf("stale_after default = %s", cfg.Ingest.StaleAfter())
	}
	if cfg.Alerts.CriticalAckSeconds != 60 {
		t.Errorf("critical_ack default = %d", cfg.Alerts.CriticalAckSeconds)
	}
	if cfg.Assignment.AcceptWindowSeconds != 600 {
		t.Errorf("accept_window default = %d", cfg.Assignment.AcceptWindowSeconds)
	}
	if cfg.Audit.Backend != "jsonl" {
		t.Errorf("audit backend default = %s", cfg.Audit.Backend)
	}
	if cfg.API.Addr != ":8080" {
		t.Errorf("api addr default = %s", cfg.API.Addr)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api:\n  addr: \":8080\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DISPATCHD_API__ADDR", ":9999")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Errorf("env override not applied, addr = %s", cfg.API.Addr)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	if _, err := Load("config.toml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadRejectsBadAuditBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("audit:\n  backend: \"cassandra\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown audit backend")
	}
}
