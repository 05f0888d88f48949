// Package config loads and persists the application configuration from
// the YAML file under the user config directory.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/littlebearapps/untether/paths"
)

// EngineConfig holds the per-engine spawn settings.
type EngineConfig struct {
	Command         string   `yaml:"command,omitempty"`
	Model           string   `yaml:"model,omitempty"`
	PermissionMode  string   `yaml:"permission_mode,omitempty"`
	AllowedTools    []string `yaml:"allowed_tools,omitempty"`
	SkipPermissions bool     `yaml:"skip_permissions,omitempty"`
	UseAPIBilling   bool     `yaml:"use_api_billing,omitempty"`
	WorkDir         string   `yaml:"work_dir,omitempty"`
}

// BudgetConfig caps spend per run and per day.
type BudgetConfig struct {
	Enabled       bool    `yaml:"enabled,omitempty"`
	MaxCostPerRun float64 `yaml:"max_cost_per_run,omitempty"`
	MaxCostPerDay float64 `yaml:"max_cost_per_day,omitempty"`
	WarnAtPct     int     `yaml:"warn_at_pct,omitempty"`
	AutoCancel    bool    `yaml:"auto_cancel,omitempty"`
}

// Config holds the application configuration.
type Config struct {
	DefaultEngine string                  `yaml:"default_engine,omitempty"`
	Engines       map[string]EngineConfig `yaml:"engines,omitempty"`
	Budget        BudgetConfig            `yaml:"cost_budget,omitempty"`
	Triggers      TriggersConfig          `yaml:"triggers,omitempty"`

	mu       sync.RWMutex
	filePath string
}

const (
	defaultEngine   = "claude"
	defaultWarnPct  = 70
	maxWarnPct      = 100
	defaultHost     = "127.0.0.1"
	defaultPort     = 9876
	defaultRate     = 60
	defaultMaxBody  = 1 << 20
	maxBodyCeiling  = 10 << 20
	minBodyFloor    = 1024
)

// Load reads the config from disk, or returns defaults if the file does
// not exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values. Called after unmarshaling and before
// Validate, which only reads.
func (c *Config) applyDefaults() {
	if c.DefaultEngine == "" {
		c.DefaultEngine = defaultEngine
	}
	if c.Engines == nil {
		c.Engines = make(map[string]EngineConfig)
	}
	if c.Budget.WarnAtPct == 0 {
		c.Budget.WarnAtPct = defaultWarnPct
	}
	if c.Triggers.Server.Host == "" {
		c.Triggers.Server.Host = defaultHost
	}
	if c.Triggers.Server.Port == 0 {
		c.Triggers.Server.Port = defaultPort
	}
	if c.Triggers.Server.RateLimit == 0 {
		c.Triggers.Server.RateLimit = defaultRate
	}
	if c.Triggers.Server.MaxBodyBytes == 0 {
		c.Triggers.Server.MaxBodyBytes = defaultMaxBody
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Budget.WarnAtPct < 0 || c.Budget.WarnAtPct > maxWarnPct {
		return fmt.Errorf("cost_budget.warn_at_pct must be between 0 and 100, got %d", c.Budget.WarnAtPct)
	}
	if c.Budget.MaxCostPerRun < 0 || c.Budget.MaxCostPerDay < 0 {
		return fmt.Errorf("cost_budget limits must not be negative")
	}
	return c.Triggers.validate()
}

// Save writes the config to disk.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := paths.ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// Engine returns the settings for one engine id, zero if unnamed.
func (c *Config) Engine(id string) EngineConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Engines[id]
}

// GetDefaultEngine returns the engine used when a run names none.
func (c *Config) GetDefaultEngine() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultEngine
}

// SetEngine stores the settings for one engine id.
func (c *Config) SetEngine(id string, ec EngineConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Engines[id] = ec
}

// GetBudget returns the cost budget settings.
func (c *Config) GetBudget() BudgetConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Budget
}

// GetTriggers returns the trigger settings.
func (c *Config) GetTriggers() TriggersConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Triggers
}
