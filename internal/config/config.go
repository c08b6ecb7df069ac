// Package config provides configuration loading for elfarol.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/elfarol/internal/agents"
	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

// Config contains every elfarol setting. Only Simulation reaches the engine;
// the other sections configure collaborators around it.
type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Stream     StreamConfig     `json:"stream" yaml:"stream"`
	API        APIConfig        `json:"api" yaml:"api"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// SimulationConfig is the file form of engine.Config. Policies are written
// in the policy.Parse syntax, e.g. "moving_average:window=5".
type SimulationConfig struct {
	Name                   string   `json:"name" yaml:"name"`
	Description            string   `json:"description,omitempty" yaml:"description,omitempty"`
	GridSize               int      `json:"grid_size" yaml:"grid_size"`
	NeighborDistance       int      `json:"neighbor_distance" yaml:"neighbor_distance"`
	Capacity               int      `json:"capacity" yaml:"capacity"`
	CapacityRatio          float64  `json:"capacity_ratio" yaml:"capacity_ratio"`
	Temperature            float64  `json:"temperature" yaml:"temperature"`
	PolicyRetentionRate    float64  `json:"policy_retention_rate" yaml:"policy_retention_rate"`
	NumIterations          int      `json:"num_iterations" yaml:"num_iterations"`
	RoundsPerUpdate        int      `json:"rounds_per_update" yaml:"rounds_per_update"`
	InitialStrategies      []string `json:"initial_strategies" yaml:"initial_strategies"`
	StartRandom            bool     `json:"start_random" yaml:"start_random"`
	Layout                 string   `json:"layout" yaml:"layout"`
	Seed                   int64    `json:"seed,omitempty" yaml:"seed,omitempty"`
	PerformanceWindow      int      `json:"performance_window" yaml:"performance_window"`
	HistoryWindow          int      `json:"history_window,omitempty" yaml:"history_window,omitempty"`
	Metric                 string   `json:"metric" yaml:"metric"`
	ClearHistoryOnSwitch   bool     `json:"clear_history_on_switch" yaml:"clear_history_on_switch"`
	ResetHistoryEachUpdate bool     `json:"reset_history_each_update" yaml:"reset_history_each_update"`
	Workers                int      `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// StorageConfig selects where finished runs are recorded.
type StorageConfig struct {
	// Driver is "sqlite" (default), "postgres", or "none".
	Driver string `json:"driver" yaml:"driver"`

	// Path is the SQLite file. Empty means $ELFAROL_HOME/runs.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DSN is the Postgres connection string. Supports ${VAR} syntax.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// KeepDecisions stores every agent's per-round decision alongside the
	// round aggregates.
	KeepDecisions bool `json:"keep_decisions" yaml:"keep_decisions"`
}

// StreamConfig configures the Redis round feed. An empty URL disables it.
type StreamConfig struct {
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	Key      string `json:"key" yaml:"key"`
	MaxLen   int64  `json:"max_len" yaml:"max_len"`
}

// APIConfig configures the observation server and the pace it runs at.
type APIConfig struct {
	Port     int           `json:"port" yaml:"port"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Speed    float64       `json:"speed" yaml:"speed"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is "debug", "info" (default), "warn", or "error".
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	eng := engine.DefaultConfig()
	strategies := make([]string, len(eng.Policies))
	for i, p := range eng.Policies {
		strategies[i] = p.String()
	}

	return &Config{
		Simulation: SimulationConfig{
			Name:                eng.Name,
			GridSize:            eng.GridSize,
			NeighborDistance:    eng.NeighborRadius,
			CapacityRatio:       eng.CapacityRatio,
			Temperature:         eng.Temperature,
			PolicyRetentionRate: eng.RetentionProbability,
			NumIterations:       eng.Iterations,
			RoundsPerUpdate:     eng.RoundsPerUpdate,
			InitialStrategies:   strategies,
			Layout:              eng.Layout.String(),
			PerformanceWindow:   eng.PerformanceWindow,
			Metric:              eng.Metric.String(),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Stream: StreamConfig{
			Key:    "elfarol:rounds",
			MaxLen: 10000,
		},
		API: APIConfig{
			Port:     8080,
			Interval: 250 * time.Millisecond,
			Speed:    1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Home returns the data directory: $ELFAROL_HOME, else ~/.elfarol.
func Home() string {
	if v := os.Getenv("ELFAROL_HOME"); v != "" {
		return v
	}
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".elfarol")
	}
	return ".elfarol"
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> $ELFAROL_HOME/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	configPath := filepath.Join(Home(), "config.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// An absolute capacity given without a ratio replaces the default ratio.
	var set struct {
		Simulation struct {
			Capacity      *int     `yaml:"capacity"`
			CapacityRatio *float64 `yaml:"capacity_ratio"`
		} `yaml:"simulation"`
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if set.Simulation.Capacity != nil && set.Simulation.CapacityRatio == nil {
		config.Simulation.CapacityRatio = 0
	}
	config.Storage.DSN = expandEnvVars(config.Storage.DSN)
	config.Stream.RedisURL = expandEnvVars(config.Stream.RedisURL)

	return config, nil
}

// Marshal renders the config as YAML, the form stored alongside each run.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Engine converts the simulation section into an engine.Config.
func (c *Config) Engine() (engine.Config, error) {
	s := c.Simulation

	policies := make([]policy.Policy, 0, len(s.InitialStrategies))
	for _, spec := range s.InitialStrategies {
		p, err := policy.Parse(spec)
		if err != nil {
			return engine.Config{}, fmt.Errorf("initial_strategies: %w", err)
		}
		policies = append(policies, p)
	}

	layout := world.LayoutStripes
	if s.Layout != "" {
		l, err := world.ParseLayout(s.Layout)
		if err != nil {
			return engine.Config{}, err
		}
		layout = l
	}

	metric := agents.MetricRetained
	if s.Metric != "" {
		m, err := agents.ParseMetric(s.Metric)
		if err != nil {
			return engine.Config{}, err
		}
		metric = m
	}

	return engine.Config{
		Name:                   s.Name,
		Description:            s.Description,
		GridSize:               s.GridSize,
		NeighborRadius:         s.NeighborDistance,
		Capacity:               s.Capacity,
		CapacityRatio:          s.CapacityRatio,
		Temperature:            s.Temperature,
		RetentionProbability:   s.PolicyRetentionRate,
		Iterations:             s.NumIterations,
		RoundsPerUpdate:        s.RoundsPerUpdate,
		Policies:               policies,
		StartRandom:            s.StartRandom,
		Layout:                 layout,
		Seed:                   s.Seed,
		PerformanceWindow:      s.PerformanceWindow,
		HistoryWindow:          s.HistoryWindow,
		Metric:                 metric,
		ClearHistoryOnSwitch:   s.ClearHistoryOnSwitch,
		ResetHistoryEachUpdate: s.ResetHistoryEachUpdate,
		Workers:                s.Workers,
	}, nil
}

// Validate checks the whole configuration, including the simulation section.
func (c *Config) Validate() error {
	eng, err := c.Engine()
	if err != nil {
		return err
	}
	if err := eng.Validate(); err != nil {
		return err
	}

	validDrivers := map[string]bool{"": true, "sqlite": true, "postgres": true, "none": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid storage driver: %s (valid: sqlite, postgres, none)", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage driver postgres requires a dsn")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port out of range: %d", c.API.Port)
	}
	if c.API.Interval < 0 {
		return fmt.Errorf("api interval must be non-negative, got %v", c.API.Interval)
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}

// StoragePath resolves the SQLite file location.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(Home(), "runs.db")
}

// applyEnvOverrides applies environment variable overrides to the config.
// Every malformed value is reported; well-formed ones are still applied.
func applyEnvOverrides(config *Config) error {
	var errs []error
	bad := func(key, v, kind string) {
		errs = append(errs, fmt.Errorf("%s: invalid %s %q", key, kind, v))
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				bad(key, v, "integer")
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				bad(key, v, "number")
				return
			}
			*dst = f
		}
	}

	setInt("ELFAROL_GRID_SIZE", &config.Simulation.GridSize)
	setInt("ELFAROL_NEIGHBOR_DISTANCE", &config.Simulation.NeighborDistance)
	setInt("ELFAROL_ITERATIONS", &config.Simulation.NumIterations)
	setInt("ELFAROL_ROUNDS_PER_UPDATE", &config.Simulation.RoundsPerUpdate)
	setInt("ELFAROL_WORKERS", &config.Simulation.Workers)
	setFloat("ELFAROL_TEMPERATURE", &config.Simulation.Temperature)
	setFloat("ELFAROL_RETENTION", &config.Simulation.PolicyRetentionRate)
	setFloat("ELFAROL_CAPACITY_RATIO", &config.Simulation.CapacityRatio)

	if v := os.Getenv("ELFAROL_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		} else {
			bad("ELFAROL_SEED", v, "integer")
		}
	}
	if v := os.Getenv("ELFAROL_START_RANDOM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Simulation.StartRandom = b
		} else {
			bad("ELFAROL_START_RANDOM", v, "boolean")
		}
	}
	if v := os.Getenv("ELFAROL_LAYOUT"); v != "" {
		config.Simulation.Layout = v
	}

	if v := os.Getenv("ELFAROL_STORAGE_DRIVER"); v != "" {
		config.Storage.Driver = v
	}
	if v := os.Getenv("ELFAROL_DB_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && config.Storage.Driver == "postgres" {
		config.Storage.DSN = v
	}
	if v := os.Getenv("ELFAROL_REDIS_URL"); v != "" {
		config.Stream.RedisURL = v
	}

	setInt("ELFAROL_PORT", &config.API.Port)
	if v := os.Getenv("ELFAROL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.API.Interval = d
		} else {
			bad("ELFAROL_INTERVAL", v, "duration")
		}
	}

	if v := os.Getenv("ELFAROL_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ELFAROL_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
