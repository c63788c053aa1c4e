package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/regbus/cmd/regbus/console"
	"github.com/mklimuk/regbus/pkg/config"
	"github.com/mklimuk/regbus/register"
)

var errQuit = errors.New("quit")

// shellTimeout bounds a single shell command when no timeout is configured.
const shellTimeout = 5 * time.Second

const shellHelp = `get <reg> [width]          read a register (width 8, 16, 24 or 32)
set <reg> <value> [width]  write a register
dump [start] [count]       read a register range
read <count>               raw read
write <hex bytes>...       raw write
help                       this message
quit                       leave the shell`

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive register shell on the configured slave",
	Action: func(c *cli.Context) error {
		timeout := c.Duration("timeout")
		if timeout <= 0 {
			timeout = shellTimeout
		}
		return console.ExitErr(1, withDevice(c, 0, func(ctx context.Context, cfg config.Config, dev *register.Device) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          fmt.Sprintf("%s> ", console.Green(fmt.Sprintf("%#02x", dev.Address()))),
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
			})
			if err != nil {
				return fmt.Errorf("could not start shell: %w", err)
			}
			defer rl.Close()
			console.Infof("connected to %#02x at %d Hz over %s, type help for commands", dev.Address(), dev.Frequency(), cfg.Backend)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				opCtx, cancel := context.WithTimeout(ctx, timeout)
				err = execute(opCtx, dev, line)
				cancel()
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					console.Errorf("%v", err)
				}
			}
		}))
	},
}

// execute runs one shell line against dev.
func execute(ctx context.Context, dev *register.Device, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch fields[0] {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		console.Print(shellHelp)
		return nil
	case "get":
		if len(args) < 1 {
			return fmt.Errorf("usage: get <reg> [width]")
		}
		reg, width, err := regAndWidth(args[0], args[1:])
		if err != nil {
			return err
		}
		v, err := getValue(ctx, dev, reg, width)
		if err != nil {
			return err
		}
		console.Print(formatValue(v, width))
		return nil
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: set <reg> <value> [width]")
		}
		reg, width, err := regAndWidth(args[0], args[2:])
		if err != nil {
			return err
		}
		value, err := parseUint(args[1], width)
		if err != nil {
			return fmt.Errorf("invalid %d-bit value: %w", width, err)
		}
		return setValue(ctx, dev, reg, width, uint32(value))
	case "dump":
		start, count := uint64(0), uint64(16)
		var err error
		if len(args) > 0 {
			if start, err = parseUint(args[0], 8); err != nil {
				return fmt.Errorf("invalid start register: %w", err)
			}
		}
		if len(args) > 1 {
			if count, err = parseUint(args[1], 16); err != nil {
				return fmt.Errorf("invalid count: %w", err)
			}
		}
		return dump(ctx, dev, byte(start), int(count))
	case "read":
		if len(args) != 1 {
			return fmt.Errorf("usage: read <count>")
		}
		count, err := parseUint(args[0], 16)
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}
		data, err := dev.ReadAsync(ctx, int(count)).Wait()
		if err != nil {
			return err
		}
		console.Printf("% x\n", data)
		return nil
	case "write":
		data, err := parseBytes(args)
		if err != nil {
			return err
		}
		return dev.Write(ctx, data, 0)
	default:
		return fmt.Errorf("unknown command %q, type help", fields[0])
	}
}

func regAndWidth(regArg string, rest []string) (byte, int, error) {
	reg, err := parseUint(regArg, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid register: %w", err)
	}
	width := 8
	if len(rest) > 0 {
		width, err = strconv.Atoi(rest[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid width: %w", err)
		}
	}
	return byte(reg), width, parseWidth(width)
}
