// Package config provides hierarchical configuration loading for relayd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the relayd daemon.
type Config struct {
	Server     Server     `yaml:"server"`
	Store      Store      `yaml:"store"`
	Session    Session    `yaml:"session"`
	Permission Permission `yaml:"permission"`
	Worker     Worker     `yaml:"worker"`
	Logging    Logging    `yaml:"logging"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Server holds HTTP server and endpoint discovery configuration. The daemon
// binds Host:Port; when the port is occupied by an unrelated process it scans
// up to PortScanRange fallback ports and records the resolved endpoint in the
// state file under StateDir.
type Server struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	PortScanRange int    `yaml:"port_scan_range"`
	CORSOrigin    string `yaml:"cors_origin"`
	StateDir      string `yaml:"state_dir"` // empty = ~/.relayd
}

// Store holds event log and snapshot configuration. Path empty means
// <state_dir>/relayd.db.
type Store struct {
	Path             string        `yaml:"path"`
	SnapshotEvery    int           `yaml:"snapshot_every"`    // envelopes between snapshots
	SnapshotInterval time.Duration `yaml:"snapshot_interval"` // wall-clock snapshot cadence
	RetainEnvelopes  int           `yaml:"retain_envelopes"`  // 0 = keep all until explicit prune
}

// Session holds per-session lifecycle tuning.
type Session struct {
	IdleEvictAfter   time.Duration `yaml:"idle_evict_after"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	EventPageLimit   int           `yaml:"event_page_limit"`
}

// Permission holds arbitration configuration.
type Permission struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Worker selects the agent worker backend.
type Worker struct {
	Backend string `yaml:"backend"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:          "127.0.0.1",
			Port:          7433,
			PortScanRange: 16,
			CORSOrigin:    "http://localhost:3000",
		},
		Store: Store{
			SnapshotEvery:    200,
			SnapshotInterval: 5 * time.Minute,
		},
		Session: Session{
			IdleEvictAfter:   15 * time.Minute,
			SubscriberBuffer: 256,
			EventPageLimit:   500,
		},
		Permission: Permission{
			Timeout: 60 * time.Second,
		},
		Worker: Worker{
			Backend: "echo",
		},
		Logging: Logging{
			Level:   "info",
			Service: "relayd",
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}
