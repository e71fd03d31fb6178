package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all notifier configuration
type Config struct {
	Server     string   `yaml:"server"`
	Port       int      `yaml:"port"`
	Secure     bool     `yaml:"secure"`
	SkipVerify bool     `yaml:"skip_verify"`
	Nick       string   `yaml:"nick"`
	FullName   string   `yaml:"full_name"`
	Password   string   `yaml:"password"`
	AuthMode   string   `yaml:"auth_mode"`
	Join       *bool    `yaml:"join"`
	Targets    []string `yaml:"targets"`
	// TimeoutSeconds is the socket read budget; 0 lets each operation's
	// own deadline govern.
	TimeoutSeconds float64 `yaml:"timeout"`
	Retries        int     `yaml:"retries"`
	LogLevel       string  `yaml:"log_level"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server == "" {
		return nil, fmt.Errorf("config requires a server")
	}
	if cfg.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}

	// Set defaults
	if cfg.AuthMode == "" {
		cfg.AuthMode = "server"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// Timeout returns the configured socket budget as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// JoinChannels reports whether channels should be joined before messaging;
// it defaults to true when unset.
func (c *Config) JoinChannels() bool {
	return c.Join == nil || *c.Join
}
