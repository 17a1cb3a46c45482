// Package config loads the fuzzer and replayer configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"alma.local/ifuzz/mutate"
	"alma.local/ifuzz/trace"
)

// Config is the on-disk configuration. Command-line flags override it.
type Config struct {
	SpecDir         string        `yaml:"spec_dir"`
	DriverDir       string        `yaml:"driver_dir"`
	TargetInterface string        `yaml:"target_iface"`
	BinderMode      bool          `yaml:"binder_mode"`
	Service         string        `yaml:"service"`
	ExecSize        int           `yaml:"exec_size"`
	Mutator         mutate.Config `yaml:"mutator"`
	Trace           Trace         `yaml:"trace"`
	LogLevel        string        `yaml:"log_level"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// Trace configures the recorder. An empty Prefix disables recording.
type Trace struct {
	Prefix string           `yaml:"prefix"`
	Device trace.DeviceInfo `yaml:"device"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		SpecDir:  "spec",
		Service:  "default",
		ExecSize: 16,
		Mutator:  mutate.DefaultConfig(),
		LogLevel: "info",
	}
}

// Load reads path over the defaults. Sections missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.SpecDir = strings.TrimSpace(cfg.SpecDir)
	cfg.DriverDir = strings.TrimSpace(cfg.DriverDir)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.SpecDir == "" {
		return errors.New("spec_dir is empty")
	}
	if c.ExecSize <= 0 {
		return fmt.Errorf("exec_size must be positive, got %d", c.ExecSize)
	}
	if err := c.Mutator.Validate(); err != nil {
		return err
	}
	return nil
}
