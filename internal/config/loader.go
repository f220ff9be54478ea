package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/schema"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PIVOT_CONFIG is set
//  3. env (prefix PIVOT_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("PIVOT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: PIVOT_INPUT, PIVOT_QUEUE_SIZE, ...
	// Map env keys like PIVOT_QUEUE_SIZE -> queue_size (flat keys),
	// preserving underscores to match koanf tags on the struct.
	envProvider := env.Provider("PIVOT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "pivot_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural options and proves the schema-dependent ones
// (gap-fill overrides, derived features) can actually be built. Validation
// failures are fatal before any record is processed.
func (c *Config) Validate(ctx context.Context) error {
	if c.Input == "" {
		return fmt.Errorf("%w: input must not be empty", ErrInvalidConfig)
	}
	if c.OutputDir == "" && c.SQLitePath == "" {
		return fmt.Errorf("%w: at least one of output_dir and sqlite_path is required", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if _, err := c.Schemas(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	feats, err := c.Features()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	schemas, _ := c.Schemas()
	if _, err := derive.New(schemas, feats); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Schemas builds the validated schema set the run operates on: the
// default classes, the configured extra transient classes, and the
// gap-fill overrides applied.
func (c *Config) Schemas() (*schema.Set, error) {
	set := schema.Default()
	for _, name := range c.TransientClasses {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set.EnsureTransient(name)
	}
	if err := set.ApplyOverrides(c.GapFillOverrides); err != nil {
		return nil, err
	}
	return set, nil
}

// Features parses the configured derived feature names.
func (c *Config) Features() (derive.FeatureSet, error) {
	return derive.ParseFeatures(c.DerivedFeatures)
}
