package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/adapter"
	"github.com/mklimuk/regbus/busctx"
	"github.com/mklimuk/regbus/bustest"
	"github.com/mklimuk/regbus/gobotbus"
	"github.com/mklimuk/regbus/i2c"
	"github.com/mklimuk/regbus/pkg/config"
	"github.com/mklimuk/regbus/register"
)

// settings loads the config file and applies flag overrides.
func settings(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("address") {
		addr, err := parseUint(c.String("address"), 7)
		if err != nil {
			return cfg, fmt.Errorf("invalid address: %w", err)
		}
		cfg.Address = uint8(addr)
	}
	if c.IsSet("frequency") {
		cfg.Frequency = uint32(c.Uint("frequency"))
	}
	if c.IsSet("standard-core") {
		cfg.StandardCore = c.Bool("standard-core")
	}
	return cfg, cfg.Validate()
}

func newPeripheral(cfg config.Config) (regbus.Peripheral, error) {
	switch cfg.Backend {
	case config.BackendPeriph:
		return i2c.NewGenericBus(cfg.Device), nil
	case config.BackendMCP2221:
		return adapter.NewMCP2221(
			adapter.WithDeviceIndex(cfg.MCP2221.Index),
			adapter.WithResponseWait(time.Duration(cfg.MCP2221.ResponseWaitMs)*time.Millisecond),
		), nil
	case config.BackendNanoPi:
		return gobotbus.NewNeoBus(cfg.Gobot.Bus, cfg.Gobot.Speed), nil
	case config.BackendSim:
		return bustest.NewSlave(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// withDevice acquires the bus, opens the configured slave and runs fn. Everything is
// released when fn returns.
func withDevice(c *cli.Context, timeout time.Duration, fn func(ctx context.Context, cfg config.Config, dev *register.Device) error) error {
	cfg, err := settings(c)
	if err != nil {
		return err
	}
	return openDevice(c, cfg, timeout, fn)
}

func openDevice(c *cli.Context, cfg config.Config, timeout time.Duration, fn func(ctx context.Context, cfg config.Config, dev *register.Device) error) error {
	periph, err := newPeripheral(cfg)
	if err != nil {
		return err
	}
	ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return regbus.Use(ctx, periph, func(ctx context.Context, ctrl *regbus.Controller) error {
		dev, err := register.Open(ctx, ctrl, cfg.Frequency, cfg.Address, register.WithHighSpeed(!cfg.StandardCore))
		if err != nil {
			return fmt.Errorf("could not open device %#02x: %w", cfg.Address, err)
		}
		defer dev.Close()
		return fn(ctx, cfg, dev)
	})
}

// parseUint parses a hex number with an optional 0x prefix.
func parseUint(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	return strconv.ParseUint(s, 16, bits)
}

// parseBytes parses hex bytes given as one string or as separate arguments.
func parseBytes(args []string) ([]byte, error) {
	var out []byte
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.ToLower(arg), "0x")
		if len(arg)%2 == 1 {
			arg = "0" + arg
		}
		for i := 0; i < len(arg); i += 2 {
			b, err := strconv.ParseUint(arg[i:i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid byte %q: %w", arg[i:i+2], err)
			}
			out = append(out, byte(b))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data given")
	}
	return out, nil
}

func parseWidth(width int) error {
	switch width {
	case 8, 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("unsupported register width %d (8, 16, 24 or 32)", width)
	}
}

func getValue(ctx context.Context, dev *register.Device, reg byte, width int) (uint32, error) {
	switch width {
	case 8:
		v, err := dev.Get8(ctx, reg)
		return uint32(v), err
	case 16:
		v, err := dev.Get16(ctx, reg)
		return uint32(v), err
	case 24:
		return dev.Get24(ctx, reg)
	case 32:
		return dev.Get32(ctx, reg)
	default:
		return 0, parseWidth(width)
	}
}

func setValue(ctx context.Context, dev *register.Device, reg byte, width int, value uint32) error {
	switch width {
	case 8:
		return dev.Set8(ctx, reg, byte(value))
	case 16:
		return dev.Set16(ctx, reg, uint16(value))
	case 24:
		return dev.Set24(ctx, reg, value)
	case 32:
		return dev.Set32(ctx, reg, value)
	default:
		return parseWidth(width)
	}
}

func formatValue(value uint32, width int) string {
	return fmt.Sprintf("%#0*x", 2+width/4, value)
}
