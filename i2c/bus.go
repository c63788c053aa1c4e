// Package i2c implements the bus peripheral on top of the Linux i2c-dev interface
// through periph.io.
package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/busctx"
)

var _ regbus.Peripheral = &GenericBus{}

// GenericBus drives a host I2C controller such as /dev/i2c-1 on a Raspberry Pi.
type GenericBus struct {
	dev     string
	bus     i2c.BusCloser
	address uint16

	hostInit func() error
	open     func(name string) (i2c.BusCloser, error)
}

// NewGenericBus returns a bus bound to the given device name ("/dev/i2c-1", "I2C1" or "1").
// Nothing is opened until Init.
func NewGenericBus(dev string) *GenericBus {
	return &GenericBus{
		dev:      dev,
		hostInit: initHost,
		open:     i2creg.Open,
	}
}

func initHost() error {
	state, err := host.Init()
	if err != nil {
		return err
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	return nil
}

func (b *GenericBus) Init(ctx context.Context) error {
	err := b.hostInit()
	if err != nil {
		return fmt.Errorf("could not init host: %w", err)
	}
	bus, err := b.open(b.dev)
	if err != nil {
		return fmt.Errorf("could not open i2c bus %s: %w", b.dev, err)
	}
	b.bus = bus
	return nil
}

func (b *GenericBus) Close() error {
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func (b *GenericBus) SetSlaveAddress(address byte) error {
	b.address = uint16(address)
	return nil
}

// SetBaudRate programs the closest speed the BCM2835 divider can produce without
// exceeding the request.
func (b *GenericBus) SetBaudRate(requested uint32, highSpeed bool) (uint32, error) {
	if b.bus == nil {
		return 0, fmt.Errorf("%w: i2c bus %s not open", regbus.ErrInvalidState, b.dev)
	}
	div, achieved, err := regbus.ClockDivider(requested, highSpeed)
	if err != nil {
		return 0, err
	}
	err = b.bus.SetSpeed(physic.Frequency(achieved) * physic.Hertz)
	if err != nil {
		return 0, fmt.Errorf("could not set speed on i2c bus %s: %w", b.dev, err)
	}
	slog.Debug("i2c clock configured", "bus", b.dev, "divider", div, "frequency", achieved)
	return achieved, nil
}

func (b *GenericBus) Write(ctx context.Context, buffer []byte) error {
	return b.tx(ctx, "write", buffer, nil)
}

func (b *GenericBus) Read(ctx context.Context, buffer []byte) error {
	return b.tx(ctx, "read", nil, buffer)
}

// WriteThenRead relies on i2c-dev issuing both messages in one I2C_RDWR call, which
// separates them with a repeated start.
func (b *GenericBus) WriteThenRead(ctx context.Context, register byte, buffer []byte) error {
	return b.tx(ctx, "write-read", []byte{register}, buffer)
}

func (b *GenericBus) tx(ctx context.Context, op string, w, r []byte) error {
	if b.bus == nil {
		return fmt.Errorf("%w: i2c bus %s not open", regbus.ErrInvalidState, b.dev)
	}
	verbose := busctx.IsVerbose(ctx)
	if verbose && len(w) > 0 {
		slog.Debug("i2c tx", "op", op, "address", fmt.Sprintf("%#02x", b.address), "data", hex.EncodeToString(w))
	}
	err := b.bus.Tx(b.address, w, r)
	if err != nil {
		return regbus.NewTransferError(op, ErrnoStatus(err), fmt.Errorf("i2c bus %s: %w", b.dev, err))
	}
	if verbose && len(r) > 0 {
		slog.Debug("i2c rx", "op", op, "address", fmt.Sprintf("%#02x", b.address), "data", hex.EncodeToString(r))
	}
	return nil
}

func (b *GenericBus) String() string {
	return b.dev
}
