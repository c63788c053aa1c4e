package main

import (
	"errors"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/regbus/cmd/regbus/console"
	"github.com/mklimuk/regbus/pkg/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "regbus"
	app.EnableBashCompletion = true
	app.Version = config.Version
	app.Usage = "inspect and modify I2C slave registers"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging and frame dumps",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "regbus.yaml",
			Usage:   "configuration file",
		},
		&cli.StringFlag{
			Name:    "backend",
			Aliases: []string{"b"},
			Usage:   "bus backend: periph, mcp2221, nanopi or sim",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "i2c-dev bus name for the periph backend",
		},
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "7-bit slave address in hex",
		},
		&cli.UintFlag{
			Name:    "frequency",
			Aliases: []string{"f"},
			Usage:   "requested bus frequency in Hz",
		},
		&cli.BoolFlag{
			Name:  "standard-core",
			Usage: "compute the clock divider for the standard core clock",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Second,
			Usage: "timeout of a single command",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&infoCmd,
		&getCmd,
		&setCmd,
		&dumpCmd,
		&readCmd,
		&writeCmd,
		&shellCmd,
		&gpioCmd,
		&mcp2221Cmd,
		&usbCmd,
	}
	// exit codes are resolved below instead of calling os.Exit from within the app
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(args)
	if err == nil {
		return 0
	}
	if err.Error() != "" {
		console.Error(err)
	}
	var exerr cli.ExitCoder
	if errors.As(err, &exerr) {
		return exerr.ExitCode()
	}
	return 1
}
