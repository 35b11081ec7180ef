// Package config loads the backchannel's YAML configuration. Every field has
// a default so the service runs with no file at all; flags in cmd/backchannel
// override individual fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full backchannel configuration.
type Config struct {
	// Port the backchannel's HTTP control surface listens on.
	Port int `yaml:"port"`
	// LogLevel is a logrus level name (trace, debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`
	// AwaitTimeout bounds every wait-for-state operation.
	AwaitTimeout time.Duration `yaml:"awaitTimeout"`

	Agent Agent `yaml:"agent"`
}

// Agent configures the embedded essi agent the backchannel drives.
type Agent struct {
	Label       string `yaml:"label"`
	InboundHost string `yaml:"inboundHost"`
	InboundPort int    `yaml:"inboundPort"`

	WalletPath string `yaml:"walletPath"`
	WalletID   string `yaml:"walletId"`
	WalletKey  string `yaml:"walletKey"`

	// MediatorInvitationURL, when set, makes the agent connect to a mediator
	// and request mediation right after startup.
	MediatorInvitationURL string `yaml:"mediatorInvitationUrl"`
}

// UnmarshalYAML overlays the file onto the current values and accepts
// awaitTimeout in Go duration syntax ("20s"), which yaml.v3 does not decode
// into time.Duration on its own.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Port         int    `yaml:"port"`
		LogLevel     string `yaml:"logLevel"`
		AwaitTimeout string `yaml:"awaitTimeout"`
		Agent        Agent  `yaml:"agent"`
	}
	r := raw{
		Port:         c.Port,
		LogLevel:     c.LogLevel,
		AwaitTimeout: c.AwaitTimeout.String(),
		Agent:        c.Agent,
	}
	if err := node.Decode(&r); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(r.AwaitTimeout)
	if err != nil {
		return fmt.Errorf("invalid awaitTimeout %q: %w", r.AwaitTimeout, err)
	}
	c.Port = r.Port
	c.LogLevel = r.LogLevel
	c.AwaitTimeout = timeout
	c.Agent = r.Agent
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:         9020,
		LogLevel:     "info",
		AwaitTimeout: 20 * time.Second,
		Agent: Agent{
			Label:       "essi-backchannel",
			InboundHost: "0.0.0.0",
			InboundPort: 9021,
			WalletPath:  "./backchannel-askar.db",
			WalletID:    "backchannel",
			WalletKey:   "backchannel-insecure-test-key",
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
