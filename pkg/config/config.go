// Package config holds the cli configuration loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Version is injected at build time.
var Version = "dev"

const (
	BackendPeriph  = "periph"
	BackendMCP2221 = "mcp2221"
	BackendNanoPi  = "nanopi"
	BackendSim     = "sim"
)

type Config struct {
	Backend string `yaml:"backend"`
	// Device is the i2c-dev bus name for the periph backend ("" opens the first bus).
	Device    string `yaml:"device"`
	Address   uint8  `yaml:"address"`
	Frequency uint32 `yaml:"frequency"`
	// StandardCore disables the high speed core clock when computing the divider.
	StandardCore bool    `yaml:"standard_core"`
	MCP2221      MCP2221 `yaml:"mcp2221"`
	Gobot        Gobot   `yaml:"gobot"`
}

type MCP2221 struct {
	// Index selects an adapter when more than one is attached; -1 requires exactly one.
	Index          int `yaml:"index"`
	ResponseWaitMs int `yaml:"response_wait_ms"`
}

type Gobot struct {
	// Bus is the adaptor bus number; -1 uses the board default.
	Bus   int    `yaml:"bus"`
	Speed uint32 `yaml:"speed"`
}

func Default() Config {
	return Config{
		Backend:   BackendPeriph,
		Frequency: 100_000,
		MCP2221:   MCP2221{Index: -1, ResponseWaitMs: 50},
		Gobot:     Gobot{Bus: -1, Speed: 100_000},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendPeriph, BackendMCP2221, BackendNanoPi, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Address > 0x7F {
		return fmt.Errorf("address %#02x is not a 7-bit address", c.Address)
	}
	if c.Frequency == 0 {
		return errors.New("frequency must be positive")
	}
	return nil
}
