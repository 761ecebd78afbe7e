// Package config handles switchboard configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"switchboard/internal/types"
)

// Config holds all switchboard configuration.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// Base directory for durable state and logs (default ~/.switchboard)
	BaseDir string `yaml:"base_dir"`

	// Durable store
	Store StoreConfig `yaml:"store"`

	// Session registry
	Registry RegistryConfig `yaml:"registry"`

	// Context bridge
	Bridge BridgeConfig `yaml:"bridge"`

	// Background summarizer
	Summary SummaryConfig `yaml:"summary"`

	// Per-engine capability overrides, keyed by engine name
	Engines map[string]EngineConfig `yaml:"engines"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the sqlite durable store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RegistryConfig configures the in-memory session cache.
type RegistryConfig struct {
	CacheTTL      string `yaml:"cache_ttl"`      // idle eviction TTL (default 30m)
	SweepInterval string `yaml:"sweep_interval"` // eviction sweep cadence (default 5m)
}

// BridgeConfig configures context assembly.
type BridgeConfig struct {
	SafetyMarginTokens int `yaml:"safety_margin_tokens"` // default 512
	TurnCharCeiling    int `yaml:"turn_char_ceiling"`    // hard per-turn truncation (default 2000)
	HandoffRecentTurns int `yaml:"handoff_recent_turns"` // raw turns appended to handoff (default 3)
	HandoffTopN        int `yaml:"handoff_top_n"`        // decisions/files listed in handoff (default 3)
}

// SummaryConfig configures the background summarizer.
type SummaryConfig struct {
	Model            string `yaml:"model"`   // fast/cheap model (default gemini-2.0-flash)
	APIKey           string `yaml:"api_key"` // GEMINI_API_KEY overrides
	MessageThreshold int    `yaml:"message_threshold"` // first summary once crossed (default 10)
	Cadence          int    `yaml:"cadence"`           // then every Nth message (default 5)
	WindowTurns      int    `yaml:"window_turns"`      // transcript turns fed to the model (default 30)
	WindowCharCap    int    `yaml:"window_char_cap"`   // hard cap on concatenated text (default 24000)
}

// EngineConfig overrides the built-in capabilities of one engine.
// Zero values mean "keep the default".
type EngineConfig struct {
	MaxContextTokens          int    `yaml:"max_context_tokens"`
	PrefersSummaryOverHistory *bool  `yaml:"prefers_summary_over_history"`
	CodeOnlyCompression       *bool  `yaml:"code_only_compression"`
	SessionRoot               string `yaml:"session_root"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".switchboard")
	return &Config{
		Name:    "switchboard",
		BaseDir: base,
		Store: StoreConfig{
			DatabasePath: filepath.Join(base, "switchboard.db"),
		},
		Registry: RegistryConfig{
			CacheTTL:      "30m",
			SweepInterval: "5m",
		},
		Bridge: BridgeConfig{
			SafetyMarginTokens: 512,
			TurnCharCeiling:    2000,
			HandoffRecentTurns: 3,
			HandoffTopN:        3,
		},
		Summary: SummaryConfig{
			Model:            "gemini-2.0-flash",
			MessageThreshold: 10,
			Cadence:          5,
			WindowTurns:      30,
			WindowCharCap:    24000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults for any
// missing values. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env always wins over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SWITCHBOARD_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("SWITCHBOARD_BASE_DIR"); v != "" {
		c.BaseDir = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Summary.APIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		c.Logging.DebugMode = true
	}
}

// Validate checks the config for values the core cannot work with.
func (c *Config) Validate() error {
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	for name, ec := range c.Engines {
		if _, err := types.ParseEngine(name); err != nil {
			return fmt.Errorf("engines: %w", err)
		}
		if ec.MaxContextTokens < 0 {
			return fmt.Errorf("engines.%s.max_context_tokens must be >= 0", name)
		}
	}
	return nil
}

// CacheTTL parses the registry cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Registry.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("registry.cache_ttl: %w", err)
	}
	return d, nil
}

// SweepInterval parses the registry sweep interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Registry.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("registry.sweep_interval: %w", err)
	}
	return d, nil
}

// defaultCaps is the built-in capability table. Config overrides are applied
// on top in EngineCaps.
func defaultCaps() map[types.Engine]types.EngineCaps {
	home, _ := os.UserHomeDir()
	return map[types.Engine]types.EngineCaps{
		types.EngineClaude: {
			MaxContextTokens:          180000,
			PrefersSummaryOverHistory: false,
			CodeOnlyCompression:       false,
			FileBacked:                true,
			SessionRoot:               filepath.Join(home, ".claude", "projects"),
		},
		types.EngineCodex: {
			MaxContextTokens:          128000,
			PrefersSummaryOverHistory: false,
			CodeOnlyCompression:       true,
			FileBacked:                true,
			SessionRoot:               filepath.Join(home, ".codex", "sessions"),
		},
		types.EngineGemini: {
			MaxContextTokens:          100000,
			PrefersSummaryOverHistory: true,
			CodeOnlyCompression:       false,
			FileBacked:                false,
		},
	}
}

// EngineCaps resolves the effective capabilities for one engine
// (built-in defaults merged with config overrides).
func (c *Config) EngineCaps(engine types.Engine) types.EngineCaps {
	caps := defaultCaps()[engine]

	ec, ok := c.Engines[string(engine)]
	if !ok {
		return caps
	}
	if ec.MaxContextTokens > 0 {
		caps.MaxContextTokens = ec.MaxContextTokens
	}
	if ec.PrefersSummaryOverHistory != nil {
		caps.PrefersSummaryOverHistory = *ec.PrefersSummaryOverHistory
	}
	if ec.CodeOnlyCompression != nil {
		caps.CodeOnlyCompression = *ec.CodeOnlyCompression
	}
	if ec.SessionRoot != "" {
		caps.SessionRoot = expandHome(ec.SessionRoot)
	}
	return caps
}

// AllEngineCaps resolves capabilities for every known engine.
func (c *Config) AllEngineCaps() map[types.Engine]types.EngineCaps {
	out := make(map[types.Engine]types.EngineCaps, len(types.AllEngines()))
	for _, e := range types.AllEngines() {
		out[e] = c.EngineCaps(e)
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
