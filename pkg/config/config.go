// Package config loads the Stratum daemon configuration from a YAML
// file and fills in defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits a field.
const (
	DefaultDataDir = "/var/lib/stratum"
	DefaultListen  = "127.0.0.1:9410"
)

// Config is the top-level daemon configuration.
type Config struct {
	// DataDir holds the registry database.
	DataDir string `yaml:"data_dir"`
	// Listen is the address of the metrics and health endpoint.
	Listen string       `yaml:"listen"`
	Log    LogConfig    `yaml:"log"`
	Pools  []PoolConfig `yaml:"pools"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PoolConfig describes one thin pool to manage.
type PoolConfig struct {
	Name        string `yaml:"name"`
	VolumeGroup string `yaml:"volume_group"`
	ThinPool    string `yaml:"thin_pool"`
	Sudo        bool   `yaml:"sudo"`
}

// Default returns a configuration with all defaults and no pools.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Listen:  DefaultListen,
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions and gaps.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, pool := range c.Pools {
		if pool.Name == "" {
			return fmt.Errorf("pool %d: name must not be empty", i)
		}
		if seen[pool.Name] {
			return fmt.Errorf("pool %s: duplicate name", pool.Name)
		}
		seen[pool.Name] = true
		if pool.VolumeGroup == "" {
			return fmt.Errorf("pool %s: volume_group must not be empty", pool.Name)
		}
		if pool.ThinPool == "" {
			return fmt.Errorf("pool %s: thin_pool must not be empty", pool.Name)
		}
	}
	return nil
}
