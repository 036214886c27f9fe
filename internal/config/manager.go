// Package config handles the persistent configuration file and its
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the user's persistent configuration preferences. Environment
// variables override the file; see ApplyEnvOverrides.
type Config struct {
	LLMProvider string `json:"llm_provider,omitempty"` // openai, anthropic, kimi, etc.
	APIKey      string `json:"api_key,omitempty"`      // API key for the selected provider
	Model       string `json:"model,omitempty"`        // Default model name
	BaseURL     string `json:"base_url,omitempty"`     // Optional override for API base URL

	DataDir    string `json:"data_dir,omitempty"`    // SQLite journal + report index location
	RedisAddr  string `json:"redis_addr,omitempty"`  // Empty selects the in-memory lock store
	LockPolicy string `json:"lock_policy,omitempty"` // "wait" or "failfast"

	RepairBudget     int     `json:"repair_budget,omitempty"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	MaxSamples       int     `json:"max_samples,omitempty"`
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{configDir: filepath.Join(configDir, "sitescout")}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk and applies environment overrides.
// A missing file yields the env-only configuration and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

// ApplyEnvOverrides layers SCOUT_-prefixed environment variables over the
// file values. Empty variables leave the file value in place.
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.LLMProvider, "LLM_PROVIDER")
	setString(&c.DataDir, "SCOUT_DATA_DIR")
	setString(&c.RedisAddr, "SCOUT_REDIS_ADDR")
	setString(&c.LockPolicy, "SCOUT_LOCK_POLICY")

	if v := os.Getenv("SCOUT_REPAIR_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.RepairBudget = n
		}
	}
	if v := os.Getenv("SCOUT_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.QualityThreshold = f
		}
	}
	if v := os.Getenv("SCOUT_MAX_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxSamples = n
		}
	}
}
