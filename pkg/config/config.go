// Package config loads the idpdb YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/logging"
	"github.com/ChrisMcGann/idpdb/pkg/merge"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// DefaultFile is read when no path is given.
const DefaultFile = "idpdb.yaml"

// Config represents the idpdb configuration.
type Config struct {
	Filter *filter.DataFilter `yaml:"filter"`
	Merge  MergeConfig        `yaml:"merge"`
	Store  StoreConfig        `yaml:"store"`
	Log    LogConfig          `yaml:"log"`
}

// MergeConfig tunes merges.
type MergeConfig struct {
	CacheSize       int  `yaml:"cache_size"`
	ContinueOnError bool `yaml:"continue_on_error"`
}

// StoreConfig sets the SQLite pragmas used when opening databases.
type StoreConfig struct {
	JournalMode string        `yaml:"journal_mode"`
	Synchronous string        `yaml:"synchronous"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	CacheSize   int           `yaml:"cache_size"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a Config with the standard filter and store settings.
func Default() *Config {
	return &Config{
		Filter: filter.Default(),
		Merge: MergeConfig{
			CacheSize: -64000, // 64 MiB
		},
		Store: StoreConfig{
			JournalMode: "WAL",
			Synchronous: "NORMAL",
			BusyTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for idpdb.yaml in the current directory.
// Keys absent from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = DefaultFile
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if c.Filter != nil && c.Filter.MaximumQValue < 0 {
		return fmt.Errorf("filter.max_qvalue must be non-negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout must be non-negative")
	}
	return nil
}

// Overlay applies another config on top of this one, with other taking precedence.
// Zero values in other leave the receiver unchanged; a filter replaces the whole filter.
func (c *Config) Overlay(other *Config) {
	if other == nil {
		return
	}

	if other.Filter != nil {
		c.Filter = other.Filter.Clone()
	}
	if other.Merge.CacheSize != 0 {
		c.Merge.CacheSize = other.Merge.CacheSize
	}
	if other.Merge.ContinueOnError {
		c.Merge.ContinueOnError = true
	}
	if other.Store.JournalMode != "" {
		c.Store.JournalMode = other.Store.JournalMode
	}
	if other.Store.Synchronous != "" {
		c.Store.Synchronous = other.Store.Synchronous
	}
	if other.Store.BusyTimeout != 0 {
		c.Store.BusyTimeout = other.Store.BusyTimeout
	}
	if other.Store.CacheSize != 0 {
		c.Store.CacheSize = other.Store.CacheSize
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}

// StoreOptions returns the store options for the configured pragmas.
func (c *Config) StoreOptions(logger *logging.Logger) []store.Option {
	opts := []store.Option{
		store.WithJournalMode(c.Store.JournalMode),
		store.WithSynchronous(c.Store.Synchronous),
		store.WithBusyTimeout(c.Store.BusyTimeout),
		store.WithLogger(logger),
	}
	if c.Store.CacheSize != 0 {
		opts = append(opts, store.WithCacheSize(c.Store.CacheSize))
	}
	return opts
}

// MergeOptions returns the merge options for the merge section.
func (c *Config) MergeOptions() []merge.Option {
	var opts []merge.Option
	if c.Merge.CacheSize != 0 {
		opts = append(opts, merge.WithCacheSize(c.Merge.CacheSize))
	}
	if c.Merge.ContinueOnError {
		opts = append(opts, merge.WithContinueOnError())
	}
	return opts
}

// Logger builds the configured logger writing to w.
func (c *Config) Logger(w io.Writer) *logging.Logger {
	level := logging.ParseLevel(c.Log.Level)
	if strings.EqualFold(c.Log.Format, "json") {
		return logging.NewJSON(w, level)
	}
	return logging.NewText(w, level)
}
