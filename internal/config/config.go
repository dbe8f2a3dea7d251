// Package config loads refexgrid settings from an optional YAML file and
// the environment.
//
// Precedence, highest first: environment variables, the config file,
// defaults. Environment variables carry the REFEXGRID prefix and use
// underscores for nesting, so grid.scan_parallelism is read from
// REFEXGRID_GRID_SCAN_PARALLELISM.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/refexgrid/internal/grid"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REFEXGRID"

// Config is the complete refexgrid configuration.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Index IndexConfig `mapstructure:"index"`
	Grid  GridConfig  `mapstructure:"grid"`
	Log   LogConfig   `mapstructure:"log"`
}

// StoreConfig locates the SQLite terminology store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// IndexConfig locates the bleve usage index. An empty path keeps the index
// in memory and rebuilds it from the store on startup.
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// GridConfig holds the view defaults.
type GridConfig struct {
	ShowFullHistory         bool `mapstructure:"show_full_history"`
	ActiveOnly              bool `mapstructure:"active_only"`
	ScanParallelism         int  `mapstructure:"scan_parallelism"`
	MaxIndexResults         int  `mapstructure:"max_index_results"`
	FilterRetainGenerations int  `mapstructure:"filter_retain_generations"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Load reads configuration from path, when given, and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "refexgrid.db")
	v.SetDefault("index.path", "")

	v.SetDefault("grid.show_full_history", false)
	v.SetDefault("grid.active_only", false)
	v.SetDefault("grid.scan_parallelism", grid.DefaultScanParallelism)
	v.SetDefault("grid.max_index_results", grid.DefaultMaxIndexResults)
	v.SetDefault("grid.filter_retain_generations", grid.DefaultFilterRetainGenerations)

	v.SetDefault("log.format", "text")
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	if c.Grid.ScanParallelism < 1 {
		return fmt.Errorf("config: grid.scan_parallelism must be at least 1, got %d", c.Grid.ScanParallelism)
	}
	if c.Grid.MaxIndexResults < 1 {
		return fmt.Errorf("config: grid.max_index_results must be at least 1, got %d", c.Grid.MaxIndexResults)
	}
	if c.Grid.FilterRetainGenerations < 1 {
		return fmt.Errorf("config: grid.filter_retain_generations must be at least 1, got %d", c.Grid.FilterRetainGenerations)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ViewOptions converts the grid settings into View options.
func (c *Config) ViewOptions() grid.Options {
	return grid.Options{
		History: grid.HistoryOptions{
			ShowFullHistory: c.Grid.ShowFullHistory,
			ActiveOnly:      c.Grid.ActiveOnly,
		},
		ScanParallelism:         c.Grid.ScanParallelism,
		MaxIndexResults:         c.Grid.MaxIndexResults,
		FilterRetainGenerations: c.Grid.FilterRetainGenerations,
	}
}
