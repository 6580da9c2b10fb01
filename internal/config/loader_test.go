package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 7433 {
		t.Errorf("port = %d, want 7433", cfg.Server.Port)
	}
	if cfg.Permission.Timeout != 60*time.Second {
		t.Errorf("permission timeout = %s, want 60s", cfg.Permission.Timeout)
	}
	if cfg.Worker.Backend != "echo" {
		t.Errorf("worker backend = %q, want echo", cfg.Worker.Backend)
	}
	if cfg.Store.SnapshotEvery != 200 {
		t.Errorf("snapshot_every = %d, want 200", cfg.Store.SnapshotEvery)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.yaml")
	yaml := `
server:
  port: 9000
permission:
  timeout: 30s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Permission.Timeout != 30*time.Second {
		t.Errorf("timeout = %s, want 30s", cfg.Permission.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched keys keep defaults.
	if cfg.Session.SubscriberBuffer != 256 {
		t.Errorf("subscriber buffer = %d, want 256", cfg.Session.SubscriberBuffer)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("RELAYD_PORT", "9100")
	t.Setenv("RELAYD_PERMISSION_TIMEOUT", "90s")
	t.Setenv("RELAYD_TELEMETRY_ENABLED", "true")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Permission.Timeout != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", cfg.Permission.Timeout)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry not enabled via env")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"negative scan range", "server:\n  port_scan_range: -1\n"},
		{"zero subscriber buffer", "session:\n  subscriber_buffer: 0\n"},
		{"zero permission timeout", "permission:\n  timeout: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "relayd.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatalf("write yaml: %v", err)
			}
			if _, err := LoadFrom(path); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
