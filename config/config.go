// Package config loads the daemon configuration and watches it for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkConfig configures the interception layer.
type NetworkConfig struct {
	// MaxBodyBytes caps retained request/response body bytes per record.
	MaxBodyBytes int `json:"maxBodyBytes" yaml:"maxBodyBytes"`
	// EnableOnStart turns interception on as soon as the engine starts.
	EnableOnStart bool `json:"enableOnStart" yaml:"enableOnStart"`
}

// Config is the daemon configuration.
type Config struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// StorePath is the SQLite file for persisted state; ":memory:" keeps it
	// ephemeral.
	StorePath string `json:"storePath" yaml:"storePath"`
	// StepDelayMS is the simulated single-step delay in milliseconds.
	StepDelayMS int `json:"stepDelayMs" yaml:"stepDelayMs"`
	// SafeModeDisables names the feature flags force-disabled when safe mode
	// engages.
	SafeModeDisables []string      `json:"safeModeDisables,omitempty" yaml:"safeModeDisables,omitempty"`
	Network          NetworkConfig `json:"network" yaml:"network"`
}

// DefaultConfig returns sensible defaults for a local run.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    ":8572",
		LogLevel:    "info",
		StorePath:   "diag.db",
		StepDelayMS: 300,
		Network: NetworkConfig{
			MaxBodyBytes:  64 * 1024,
			EnableOnStart: false,
		},
	}
}

// StepDelay returns the configured step delay as a duration.
func (c *Config) StepDelay() time.Duration {
	if c.StepDelayMS <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(c.StepDelayMS) * time.Millisecond
}

// LoadFromFile loads a configuration from a YAML file, filling unset fields
// with defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
