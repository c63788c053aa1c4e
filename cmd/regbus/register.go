package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/regbus/cmd/regbus/console"
	"github.com/mklimuk/regbus/pkg/config"
	"github.com/mklimuk/regbus/register"
)

var widthFlag = &cli.IntFlag{
	Name:    "width",
	Aliases: []string{"w"},
	Value:   8,
	Usage:   "register width in bits (8, 16, 24 or 32)",
}

type deviceInfo struct {
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"`
	Address   string `yaml:"address"`
	Frequency uint32 `yaml:"frequency"`
	HighSpeed bool   `yaml:"high_speed"`
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "open the configured slave and print the negotiated session",
	Action: func(c *cli.Context) error {
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, cfg config.Config, dev *register.Device) error {
			enc := yaml.NewEncoder(console.Writer())
			defer enc.Close()
			return enc.Encode(deviceInfo{
				Version:   config.Version,
				Backend:   cfg.Backend,
				Address:   fmt.Sprintf("%#02x", dev.Address()),
				Frequency: dev.Frequency(),
				HighSpeed: dev.HighSpeed(),
			})
		}))
	},
}

var getCmd = cli.Command{
	Name:      "get",
	Usage:     "read a register value",
	ArgsUsage: "<register>",
	Flags:     []cli.Flag{widthFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		reg, err := parseUint(c.Args().Get(0), 8)
		if err != nil {
			return console.Exit(1, "could not decode register: %v", err)
		}
		width := c.Int("width")
		if err := parseWidth(width); err != nil {
			return console.Exit(1, "%v", err)
		}
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
			v, err := getValue(ctx, dev, byte(reg), width)
			if err != nil {
				return err
			}
			console.Printf("%s: %s\n", console.White(fmt.Sprintf("%#02x", reg)), formatValue(v, width))
			return nil
		}))
	},
}

var setCmd = cli.Command{
	Name:      "set",
	Usage:     "write a register value",
	ArgsUsage: "<register> <value>",
	Flags:     []cli.Flag{widthFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		width := c.Int("width")
		if err := parseWidth(width); err != nil {
			return console.Exit(1, "%v", err)
		}
		reg, err := parseUint(c.Args().Get(0), 8)
		if err != nil {
			return console.Exit(1, "could not decode register: %v", err)
		}
		value, err := parseUint(c.Args().Get(1), width)
		if err != nil {
			return console.Exit(1, "could not decode %d-bit value: %v", width, err)
		}
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
			err := setValue(ctx, dev, byte(reg), width, uint32(value))
			if err != nil {
				return err
			}
			console.PInfof(console.PictoPin, "wrote %s to register %#02x", formatValue(uint32(value), width), reg)
			return nil
		}))
	},
}

var dumpCmd = cli.Command{
	Name:      "dump",
	Usage:     "read a register range in one combined transaction",
	ArgsUsage: "[start] [count]",
	Action: func(c *cli.Context) error {
		start, count := uint64(0), uint64(16)
		var err error
		if c.NArg() > 0 {
			start, err = parseUint(c.Args().Get(0), 8)
			if err != nil {
				return console.Exit(1, "could not decode start register: %v", err)
			}
		}
		if c.NArg() > 1 {
			count, err = parseUint(c.Args().Get(1), 16)
			if err != nil {
				return console.Exit(1, "could not decode count: %v", err)
			}
		}
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
			return dump(ctx, dev, byte(start), int(count))
		}))
	},
}

func dump(ctx context.Context, dev *register.Device, start byte, count int) error {
	if count <= 0 || int(start)+count > 256 {
		return fmt.Errorf("register range %#02x+%d outside of the register file", start, count)
	}
	data, err := dev.ReadRegister(ctx, start, count)
	if err != nil {
		return err
	}
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		console.Printf("%s  % x\n", console.White(fmt.Sprintf("%02x", int(start)+i)), data[i:end])
	}
	return nil
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "raw read of count bytes from the current register pointer",
	ArgsUsage: "<count>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		count, err := parseUint(c.Args().Get(0), 16)
		if err != nil || count == 0 {
			return console.Exit(1, "invalid count %q", c.Args().Get(0))
		}
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
			buf := make([]byte, count)
			n, err := dev.Read(ctx, buf, 0, len(buf))
			if err != nil {
				return err
			}
			console.Print(hex.EncodeToString(buf[:n]))
			return nil
		}))
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "raw write of hex bytes as one transaction",
	ArgsUsage: "<hex bytes>...",
	Action: func(c *cli.Context) error {
		data, err := parseBytes(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "could not decode data: %v", err)
		}
		return console.ExitErr(1, withDevice(c, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
			err := dev.Write(ctx, data, 0)
			if err != nil {
				return err
			}
			console.PInfof(console.PictoPin, "wrote %d bytes", len(data))
			return nil
		}))
	},
}
