// File path: internal/data/orchestrator/config.go
package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the construction of the orchestrator and the tuning
// of its background components.
type Config struct {
	ListenAddr string

	QueueCapacity int
	QueueWorkers  int

	LinkWindow        time.Duration
	TerminalWindow    time.Duration
	MaxAbsorbedEdits  int
	ReconcileInterval time.Duration
}

// DefaultConfig returns the baseline configuration used when no
// overrides are supplied.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8180",
		QueueCapacity:     1024,
		LinkWindow:        120 * time.Second,
		TerminalWindow:    30 * time.Second,
		MaxAbsorbedEdits:  8,
		ReconcileInterval: time.Minute,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
// Store-level settings (db path, data dir) live with the store config.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if addr := strings.TrimSpace(os.Getenv("CORE_LISTEN_ADDR")); addr != "" {
		cfg.ListenAddr = addr
	}
	if value := strings.TrimSpace(os.Getenv("CORE_QUEUE_CAPACITY")); value != "" {
		capacity, err := strconv.Atoi(value)
		if err != nil || capacity <= 0 {
			return Config{}, fmt.Errorf("parse CORE_QUEUE_CAPACITY: %q", value)
		}
		cfg.QueueCapacity = capacity
	}
	if value := strings.TrimSpace(os.Getenv("CORE_QUEUE_WORKERS")); value != "" {
		workers, err := strconv.Atoi(value)
		if err != nil || workers <= 0 {
			return Config{}, fmt.Errorf("parse CORE_QUEUE_WORKERS: %q", value)
		}
		cfg.QueueWorkers = workers
	}
	if value := strings.TrimSpace(os.Getenv("CORE_LINK_WINDOW")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse CORE_LINK_WINDOW: %w", err)
		}
		cfg.LinkWindow = dur
	}
	if value := strings.TrimSpace(os.Getenv("CORE_RECONCILE_INTERVAL")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse CORE_RECONCILE_INTERVAL: %w", err)
		}
		cfg.ReconcileInterval = dur
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.LinkWindow <= 0 {
		cfg.LinkWindow = defaults.LinkWindow
	}
	if cfg.TerminalWindow <= 0 {
		cfg.TerminalWindow = defaults.TerminalWindow
	}
	if cfg.MaxAbsorbedEdits <= 0 {
		cfg.MaxAbsorbedEdits = defaults.MaxAbsorbedEdits
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	return cfg
}
