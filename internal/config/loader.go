package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "relayd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "RELAYD_HOST")
	setInt(&cfg.Server.Port, "RELAYD_PORT")
	setInt(&cfg.Server.PortScanRange, "RELAYD_PORT_SCAN_RANGE")
	setString(&cfg.Server.CORSOrigin, "RELAYD_CORS_ORIGIN")
	setString(&cfg.Server.StateDir, "RELAYD_STATE_DIR")
	setString(&cfg.Store.Path, "RELAYD_STORE_PATH")
	setInt(&cfg.Store.SnapshotEvery, "RELAYD_SNAPSHOT_EVERY")
	setDuration(&cfg.Store.SnapshotInterval, "RELAYD_SNAPSHOT_INTERVAL")
	setInt(&cfg.Store.RetainEnvelopes, "RELAYD_RETAIN_ENVELOPES")
	setDuration(&cfg.Session.IdleEvictAfter, "RELAYD_IDLE_EVICT_AFTER")
	setInt(&cfg.Session.SubscriberBuffer, "RELAYD_SUBSCRIBER_BUFFER")
	setInt(&cfg.Session.EventPageLimit, "RELAYD_EVENT_PAGE_LIMIT")
	setDuration(&cfg.Permission.Timeout, "RELAYD_PERMISSION_TIMEOUT")
	setString(&cfg.Worker.Backend, "RELAYD_WORKER_BACKEND")
	setString(&cfg.Logging.Level, "RELAYD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RELAYD_LOG_SERVICE")
	setBool(&cfg.Telemetry.Enabled, "RELAYD_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "RELAYD_TELEMETRY_ENDPOINT")
}

// validate rejects configurations the daemon cannot run with.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.PortScanRange < 0 {
		return fmt.Errorf("server.port_scan_range must be >= 0: %d", cfg.Server.PortScanRange)
	}
	if cfg.Session.SubscriberBuffer < 1 {
		return fmt.Errorf("session.subscriber_buffer must be >= 1: %d", cfg.Session.SubscriberBuffer)
	}
	if cfg.Session.EventPageLimit < 1 {
		return fmt.Errorf("session.event_page_limit must be >= 1: %d", cfg.Session.EventPageLimit)
	}
	if cfg.Store.SnapshotEvery < 1 {
		return fmt.Errorf("store.snapshot_every must be >= 1: %d", cfg.Store.SnapshotEvery)
	}
	if cfg.Permission.Timeout <= 0 {
		return fmt.Errorf("permission.timeout must be positive: %s", cfg.Permission.Timeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
