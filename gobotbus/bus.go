// Package gobotbus exposes a gobot I2C connector as a bus peripheral.
package gobotbus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/busctx"
	busi2c "github.com/mklimuk/regbus/i2c"
)

// MaxBlockRead is the largest combined read gobot supports.
const MaxBlockRead = 32

// DefaultSpeed is the speed the kernel driver configures unless the device tree says otherwise.
const DefaultSpeed = 100_000

var ErrNoConnection = errors.New("no slave connection, set the slave address first")

var _ regbus.Peripheral = &Bus{}

// Adaptor is a gobot platform adaptor offering I2C connections.
type Adaptor interface {
	i2c.Connector
	Connect() error
	Finalize() error
}

// Bus drives one I2C bus of a gobot adaptor. gobot cannot change the bus clock so the speed
// declared at construction is what SetBaudRate reports.
type Bus struct {
	mx      sync.Mutex
	adaptor Adaptor
	busNr   int
	speed   uint32
	address byte
	conn    i2c.Connection
}

func NewBus(adaptor Adaptor, busNr int, speed uint32) *Bus {
	if speed == 0 {
		speed = DefaultSpeed
	}
	return &Bus{adaptor: adaptor, busNr: busNr, speed: speed}
}

// neoAdaptor only brings up the I2C part of the board.
type neoAdaptor struct {
	*nanopi.Adaptor
}

func (a neoAdaptor) Connect() error {
	return a.I2cBusAdaptor.Connect()
}

func (a neoAdaptor) Finalize() error {
	return a.I2cBusAdaptor.Finalize()
}

// NewNeoBus returns a bus on a NanoPi NEO. A negative busNr selects the board default.
func NewNeoBus(busNr int, speed uint32) *Bus {
	a := neoAdaptor{nanopi.NewNeoAdaptor()}
	if busNr < 0 {
		busNr = a.DefaultI2cBus()
	}
	return NewBus(a, busNr, speed)
}

func (b *Bus) Init(ctx context.Context) error {
	err := b.adaptor.Connect()
	if err != nil {
		return fmt.Errorf("adaptor connect error: %w", err)
	}
	slog.Debug("gobot i2c adaptor connected", "bus", b.busNr)
	return nil
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	if b.conn != nil {
		err = b.conn.Close()
		b.conn = nil
	}
	return multierr.Append(err, b.adaptor.Finalize())
}

func (b *Bus) SetSlaveAddress(address byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			slog.Warn("could not close previous connection", "address", b.address, "error", err)
		}
		b.conn = nil
	}
	conn, err := b.adaptor.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return fmt.Errorf("could not connect to %#02x on bus %d: %w", address, b.busNr, err)
	}
	b.conn = conn
	b.address = address
	return nil
}

func (b *Bus) SetBaudRate(requested uint32, highSpeed bool) (uint32, error) {
	if requested == 0 {
		return 0, fmt.Errorf("%w: bus frequency must be positive", regbus.ErrInvalidArgument)
	}
	if b.speed > requested {
		slog.Warn("fixed bus speed exceeds requested frequency", "requested", requested, "speed", b.speed)
	}
	return b.speed, nil
}

func (b *Bus) Write(ctx context.Context, buffer []byte) error {
	return b.do(ctx, "write", buffer, func(conn i2c.Connection) error {
		n, err := conn.Write(buffer)
		if err == nil && n != len(buffer) {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(buffer))
		}
		return err
	})
}

func (b *Bus) Read(ctx context.Context, buffer []byte) error {
	return b.do(ctx, "read", buffer, func(conn i2c.Connection) error {
		n, err := conn.Read(buffer)
		if err == nil && n != len(buffer) {
			err = fmt.Errorf("short read: %d of %d bytes", n, len(buffer))
		}
		return err
	})
}

// WriteThenRead uses the SMBus I2C block read, a write of the register followed by a
// repeated start read. Adapters without I2C_FUNC_SMBUS_READ_I2C_BLOCK make gobot fall back
// to a separate write and read; use the periph backend on those.
func (b *Bus) WriteThenRead(ctx context.Context, register byte, buffer []byte) error {
	if len(buffer) > MaxBlockRead {
		return fmt.Errorf("%w: %d bytes exceed the %d byte block read limit", regbus.ErrInvalidArgument, len(buffer), MaxBlockRead)
	}
	return b.do(ctx, "write-read", buffer, func(conn i2c.Connection) error {
		return conn.ReadBlockData(register, buffer)
	})
}

func (b *Bus) do(ctx context.Context, op string, buffer []byte, fn func(conn i2c.Connection) error) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.conn == nil {
		return ErrNoConnection
	}
	err := fn(b.conn)
	if busctx.IsVerbose(ctx) {
		slog.Debug("gobot i2c transfer", "op", op, "addr", b.address, "data", hex.EncodeToString(buffer), "error", err)
	}
	if err != nil {
		return regbus.NewTransferError(op, busi2c.ErrnoStatus(err), fmt.Errorf("gobot bus %d: %w", b.busNr, err))
	}
	return nil
}

func (b *Bus) String() string {
	return fmt.Sprintf("gobot i2c bus %d", b.busNr)
}
