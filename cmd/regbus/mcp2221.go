package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/regbus/adapter"
	"github.com/mklimuk/regbus/busctx"
	"github.com/mklimuk/regbus/cmd/regbus/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 adapter diagnostics",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

func withAdapter(c *cli.Context, fn func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error)) error {
	cfg, err := settings(c)
	if err != nil {
		return console.ExitErr(1, err)
	}
	a := adapter.NewMCP2221(
		adapter.WithDeviceIndex(cfg.MCP2221.Index),
		adapter.WithResponseWait(time.Duration(cfg.MCP2221.ResponseWaitMs)*time.Millisecond),
	)
	ctx, cancel := context.WithTimeout(busctx.SetVerbose(c.Context, c.Bool("verbose")), c.Duration("timeout"))
	defer cancel()
	status, err := fn(ctx, a)
	if err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(console.Writer())
	defer enc.Close()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return a.Status(ctx)
		})
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return a.ReleaseBus(ctx)
		})
	},
}
