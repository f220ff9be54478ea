// Package config defines process configuration and loading.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and environment.
// - External errors must be wrapped via this package's error sentinels.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr exposes /metrics when non-empty, e.g. ":9090".
	// Empty disables the listener; batch runs rarely need one.
	MetricsAddr string `koanf:"metrics_addr"`

	// Input is the JSONL record stream path; "-" reads stdin.
	Input string `koanf:"input"`

	// OutputDir receives the exported CSV tables.
	OutputDir string `koanf:"output_dir"`

	// SQLitePath additionally exports all tables into one database file
	// when non-empty.
	SQLitePath string `koanf:"sqlite_path"`

	// QueueSize bounds the in-memory derivation queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of derivation workers.
	WorkerCount int `koanf:"worker_count"`

	// TransientClasses lists entity classes tracked with lifecycle
	// summaries, in addition to the built-in projectile class.
	TransientClasses []string `koanf:"transient_classes"`

	// DerivedFeatures names the enabled derived signals: angle_delta,
	// speed, acceleration, visibility_edges.
	DerivedFeatures []string `koanf:"derived_features"`

	// GapFillOverrides remaps gap-fill policy per field. Keys are "field"
	// or "class.field"; values are "hold-last" or "unknown".
	GapFillOverrides map[string]string `koanf:"gap_fill_overrides"`

	// SkipBots drops records carrying a bot-range account id.
	SkipBots bool `koanf:"skip_bots"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		Input:       "-",
		OutputDir:   "out",
		QueueSize:   4096,
		WorkerCount: runtime.NumCPU(),
		DerivedFeatures: []string{
			"angle_delta",
			"speed",
			"acceleration",
			"visibility_edges",
		},
		SkipBots: true,
	}
}
