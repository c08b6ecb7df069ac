package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/elfarol/internal/agents"
	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

func TestDefault(t *testing.T) {
	config := Default()

	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if config.Storage.Driver != "sqlite" {
		t.Errorf("expected storage driver 'sqlite', got '%s'", config.Storage.Driver)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	eng, err := config.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	want := engine.DefaultConfig()
	if len(eng.Policies) != len(want.Policies) {
		t.Fatalf("expected %d policies, got %d", len(want.Policies), len(eng.Policies))
	}
	for i := range want.Policies {
		if eng.Policies[i] != want.Policies[i] {
			t.Errorf("policy %d: got %s, want %s", i, eng.Policies[i], want.Policies[i])
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
simulation:
  name: diagonal
  grid_size: 2
  neighbor_distance: 1
  capacity: 1
  capacity_ratio: 0
  temperature: 0
  policy_retention_rate: 0
  num_iterations: 10
  rounds_per_update: 1
  initial_strategies: [always_go, never_go]
  layout: corners
  metric: since_switch
  clear_history_on_switch: true

storage:
  driver: postgres
  dsn: ${ELFAROL_TEST_DSN}

api:
  interval: 1s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("ELFAROL_TEST_DSN", "postgres://localhost/elfarol")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Storage.DSN != "postgres://localhost/elfarol" {
		t.Errorf("expected expanded DSN, got '%s'", config.Storage.DSN)
	}
	if config.API.Interval != time.Second {
		t.Errorf("expected interval 1s, got %v", config.API.Interval)
	}
	if config.API.Port != 8080 {
		t.Errorf("expected default port to survive, got %d", config.API.Port)
	}

	eng, err := config.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if eng.EffectiveCapacity() != 1 || eng.GridSize != 2 {
		t.Errorf("unexpected engine config: %+v", eng)
	}
	if eng.Layout != world.LayoutCorners || eng.Metric != agents.MetricSinceSwitch || !eng.ClearHistoryOnSwitch {
		t.Errorf("layout/metric/clear not applied: %+v", eng)
	}
	if len(eng.Policies) != 2 || eng.Policies[1] != policy.NeverGo() {
		t.Errorf("unexpected policies: %v", eng.Policies)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("simulation: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"unknown strategy", func(c *Config) { c.Simulation.InitialStrategies = []string{"psychic"} }, true},
		{"unknown layout", func(c *Config) { c.Simulation.Layout = "spiral" }, true},
		{"unknown metric", func(c *Config) { c.Simulation.Metric = "lifetime" }, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, true},
		{"zero iterations", func(c *Config) { c.Simulation.NumIterations = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWrapsEngineError(t *testing.T) {
	c := Default()
	c.Simulation.PolicyRetentionRate = 2
	if err := c.Validate(); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ELFAROL_HOME", t.TempDir())
	t.Setenv("ELFAROL_GRID_SIZE", "30")
	t.Setenv("ELFAROL_TEMPERATURE", "0.05")
	t.Setenv("ELFAROL_SEED", "99")
	t.Setenv("ELFAROL_START_RANDOM", "true")
	t.Setenv("ELFAROL_LOG_LEVEL", "debug")
	t.Setenv("ELFAROL_INTERVAL", "2s")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.Simulation.GridSize != 30 {
		t.Errorf("expected grid size 30, got %d", config.Simulation.GridSize)
	}
	if config.Simulation.Temperature != 0.05 {
		t.Errorf("expected temperature 0.05, got %v", config.Simulation.Temperature)
	}
	if config.Simulation.Seed != 99 || !config.Simulation.StartRandom {
		t.Errorf("seed/start_random not applied: %+v", config.Simulation)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", config.Logging.Level)
	}
	if config.API.Interval != 2*time.Second {
		t.Errorf("expected 2s interval, got %v", config.API.Interval)
	}
}

func TestLoadReadsHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ELFAROL_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("simulation:\n  grid_size: 7\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.Simulation.GridSize != 7 {
		t.Errorf("expected grid size 7 from home config, got %d", config.Simulation.GridSize)
	}
	if config.StoragePath() != filepath.Join(home, "runs.db") {
		t.Errorf("unexpected storage path %s", config.StoragePath())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	c.Simulation.Name = "stored"
	data, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	back, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Simulation.Name != "stored" || len(back.Simulation.InitialStrategies) != len(c.Simulation.InitialStrategies) {
		t.Errorf("round trip lost data: %+v", back.Simulation)
	}
}

func TestMarshalRoundTripAbsoluteCapacity(t *testing.T) {
	c := Default()
	c.Simulation.GridSize = 10
	c.Simulation.Capacity = 30
	c.Simulation.CapacityRatio = 0
	data, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	back, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ecfg, err := back.Engine()
	if err != nil {
		t.Fatal(err)
	}
	if got := ecfg.EffectiveCapacity(); got != 30 {
		t.Errorf("replayed capacity = %d, want 30 (ratio %v)", got, back.Simulation.CapacityRatio)
	}
}

func TestLoadFromFileCapacity(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"absolute only", "simulation:\n  grid_size: 10\n  capacity: 30\n", 30},
		{"ratio only", "simulation:\n  grid_size: 10\n  capacity_ratio: 0.5\n", 50},
		{"ratio wins when both set", "simulation:\n  grid_size: 10\n  capacity: 30\n  capacity_ratio: 0.5\n", 50},
		{"neither uses default ratio", "simulation:\n  grid_size: 10\n", 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}
			c, err := LoadFromFile(path)
			if err != nil {
				t.Fatal(err)
			}
			ecfg, err := c.Engine()
			if err != nil {
				t.Fatal(err)
			}
			if got := ecfg.EffectiveCapacity(); got != tt.want {
				t.Errorf("effective capacity = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnvOverridesRejectMalformed(t *testing.T) {
	tests := []struct{ key, value string }{
		{"ELFAROL_GRID_SIZE", "abc"},
		{"ELFAROL_TEMPERATURE", "warm"},
		{"ELFAROL_SEED", "1.5"},
		{"ELFAROL_INTERVAL", "soon"},
		{"ELFAROL_START_RANDOM", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("ELFAROL_HOME", t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%q", tt.key, tt.value)
			} else if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error does not name %s: %v", tt.key, err)
			}
		})
	}
}
