package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/regbus/cmd/regbus/console"
	"github.com/mklimuk/regbus/gpio"
	"github.com/mklimuk/regbus/pkg/config"
	"github.com/mklimuk/regbus/register"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "MCP23017 expander on the configured address (default 0x21)",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "retry", Value: 3, Usage: "attempts on a busy bus"},
	},
	Subcommands: []*cli.Command{
		&gpioStatusCmd,
		&gpioReadCmd,
		&gpioConfigureCmd,
		&gpioPullCmd,
	},
}

func withExpander(c *cli.Context, fn func(ctx context.Context, exp *gpio.MCP23017) error) error {
	cfg, err := settings(c)
	if err != nil {
		return console.ExitErr(1, err)
	}
	if !c.IsSet("address") {
		cfg.Address = gpio.DefaultMCP23017Address
	}
	return console.ExitErr(1, openDevice(c, cfg, c.Duration("timeout"), func(ctx context.Context, _ config.Config, dev *register.Device) error {
		exp := gpio.NewMCP23017(dev, gpio.WithRetry(c.Int("retry"), 10*time.Millisecond))
		return fn(ctx, exp)
	}))
}

var gpioReadCmd = cli.Command{
	Name:  "read",
	Usage: "configure both ports as inputs and read them",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			if err := exp.InitA(ctx, 0xFF); err != nil {
				return err
			}
			if err := exp.InitB(ctx, 0xFF); err != nil {
				return err
			}
			res, err := exp.Read(ctx)
			if err != nil {
				return err
			}
			console.Printf("I/O A: %#02X\nI/O B: %#02X\n", res[0], res[1])
			return nil
		})
	},
}

var gpioStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the IOCON register",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			data, err := exp.ReadSettingsA(ctx)
			if err != nil {
				return err
			}
			console.Printf("IOCON content: %#02X\n", data)
			return nil
		})
	},
}

var gpioConfigureCmd = cli.Command{
	Name:      "configure",
	Usage:     "write the IOCON register",
	ArgsUsage: "<iocon>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		data, err := parseUint(c.Args().Get(0), 8)
		if err != nil {
			return console.Exit(1, "could not decode data: %v", err)
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			err := exp.WriteSettingsA(ctx, byte(data))
			if err != nil {
				return err
			}
			console.Printf("Wrote IOCON content: %#02X\n", data)
			return nil
		})
	},
}

var gpioPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "write the pull-up registers of both ports",
	ArgsUsage: "<port A> [port B]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 || c.NArg() > 2 {
			return console.Exit(1, "expected 1 or 2 arguments, got %d", c.NArg())
		}
		a, err := parseUint(c.Args().Get(0), 8)
		if err != nil {
			return console.Exit(1, "could not decode data: %v", err)
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			if err := exp.PullUpA(ctx, byte(a)); err != nil {
				return err
			}
			console.Printf("Wrote GPPUA content: %#02X\n", a)
			if c.NArg() == 1 {
				return nil
			}
			b, err := parseUint(c.Args().Get(1), 8)
			if err != nil {
				return err
			}
			if err := exp.PullUpB(ctx, byte(b)); err != nil {
				return err
			}
			console.Printf("Wrote GPPUB content: %#02X\n", b)
			return nil
		})
	},
}
