// Package adapter implements the bus peripheral on the Microchip MCP2221 USB to I2C bridge.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const (
	cmdStatus                = 0x10
	cmdGetData               = 0x40
	cmdWriteData             = 0x90
	cmdReadData              = 0x91
	cmdReadDataRepeatedStart = 0x93
	cmdWriteDataNoStop       = 0x94

	subCmdCancel   = 0x10
	subCmdSetSpeed = 0x20

	respEngineBusy    = 0x01
	respGetDataError  = 0x41
	respSpeedAccepted = 0x20
	respReadError     = 0x7F

	stateAddressNACK = 0x25

	reportSize = 64
	// MaxTransfer is the largest payload carried by a single HID report.
	MaxTransfer = reportSize - 4

	clockFrequency = 12_000_000
	minDivider     = 27 // 400 kHz
	maxDivider     = 255
)

var ErrEngineBusy = errors.New("I2C engine is busy (command not completed)")
var ErrSpeedRejected = errors.New("speed change rejected while a transfer is in progress")

var _ regbus.Peripheral = &MCP2221{}

// hidDevice is the part of *hid.Device used by the adapter.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	index        int
	address      byte
	open         func() (hidDevice, error)
}

type MCP2221Status struct {
	I2CState               int    `yaml:"i2c_state"`
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type Option func(*MCP2221)

// WithDeviceIndex selects one of several attached adapters by enumeration order.
func WithDeviceIndex(index int) Option {
	return func(d *MCP2221) {
		d.index = index
	}
}

// WithResponseWait sets the delay between a request and reading its response.
func WithResponseWait(wait time.Duration) Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...Option) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		index:        -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.open = func() (hidDevice, error) {
		return openHID(d.index)
	}
	return d
}

func openHID(index int) (hidDevice, error) {
	if !hid.Supported() {
		return nil, fmt.Errorf("USB HID is not supported on this platform")
	}
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if index < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d adapters attached", len(devs))
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

// Init checks that the adapter is reachable.
func (d *MCP2221) Init(ctx context.Context) error {
	_, err := d.Status(ctx)
	return err
}

// Close is a no-op; the HID handle is only held for the duration of a command.
func (d *MCP2221) Close() error {
	return nil
}

func (d *MCP2221) SetSlaveAddress(address byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.address = address
	return nil
}

// SpeedDivider returns the divider for the requested speed and the speed it produces.
// Requests above 400 kHz are capped.
func SpeedDivider(requested uint32) (byte, uint32, error) {
	if requested == 0 {
		return 0, 0, fmt.Errorf("%w: bus frequency must be positive", regbus.ErrInvalidArgument)
	}
	div := (clockFrequency+requested-1)/requested - 3
	div = max(div, minDivider)
	if div > maxDivider {
		return 0, 0, fmt.Errorf("%w: MCP2221 cannot run slower than %d Hz", regbus.ErrInvalidArgument, clockFrequency/(maxDivider+3))
	}
	return byte(div), clockFrequency / (div + 3), nil
}

// SetBaudRate programs the adapter clock. The MCP2221 has a single clock source so the
// high speed flag is ignored.
func (d *MCP2221) SetBaudRate(requested uint32, highSpeed bool) (uint32, error) {
	div, achieved, err := SpeedDivider(requested)
	if err != nil {
		return 0, err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = subCmdSetSpeed
	d.request[4] = div
	err = d.send(context.Background(), true)
	if err != nil {
		return 0, fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != respSpeedAccepted {
		return 0, regbus.NewTransferError("set speed", regbus.StatusBusy, ErrSpeedRejected)
	}
	slog.Debug("MCP2221 clock configured", "divider", div, "frequency", achieved)
	return achieved, nil
}

func (d *MCP2221) Write(ctx context.Context, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.write(ctx, "write", cmdWriteData, buffer)
}

func (d *MCP2221) Read(ctx context.Context, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.read(ctx, "read", cmdReadData, buffer)
}

// WriteThenRead sends the register without a stop condition and reads back with a
// repeated start.
func (d *MCP2221) WriteThenRead(ctx context.Context, register byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.write(ctx, "write-read", cmdWriteDataNoStop, []byte{register})
	if err != nil {
		return err
	}
	return d.read(ctx, "write-read", cmdReadDataRepeatedStart, buffer)
}

func (d *MCP2221) write(ctx context.Context, op string, cmd byte, buffer []byte) error {
	if len(buffer) > MaxTransfer {
		return fmt.Errorf("%w: %d bytes exceed the %d byte transfer limit", regbus.ErrInvalidArgument, len(buffer), MaxTransfer)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = d.address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", d.address, err)
	}
	if d.response[1] == respEngineBusy {
		slog.Debug("adapter busy")
		return regbus.NewTransferError(op, regbus.StatusBusy, ErrEngineBusy)
	}
	return d.checkState(ctx, op)
}

func (d *MCP2221) read(ctx context.Context, op string, cmd byte, buffer []byte) error {
	if len(buffer) > MaxTransfer {
		return fmt.Errorf("%w: %d bytes exceed the %d byte transfer limit", regbus.ErrInvalidArgument, len(buffer), MaxTransfer)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = d.address<<1 + 1
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", d.address, err)
	}
	if d.response[1] == respEngineBusy {
		return regbus.NewTransferError(op, regbus.StatusBusy, ErrEngineBusy)
	}
	if err := d.checkState(ctx, op); err != nil {
		return err
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == respGetDataError {
		return regbus.NewTransferError(op, regbus.StatusData, fmt.Errorf("error reading the I2C slave data from the I2C engine"))
	}
	if d.response[3] == respReadError || int(d.response[3]) != len(buffer) {
		return regbus.NewTransferError(op, regbus.StatusData, fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3]))
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

// checkState reads the engine state after a command and reports an unacknowledged address.
func (d *MCP2221) checkState(ctx context.Context, op string) error {
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if d.response[8] == stateAddressNACK {
		// the engine stays stuck until the transfer is cancelled
		_, _ = d.releaseBus(ctx)
		return regbus.NewTransferError(op, regbus.StatusNACK, fmt.Errorf("slave %#02x did not acknowledge", d.address))
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8: I2C engine state machine
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	status := &MCP2221Status{
		I2CState:             int(buffer[8]),
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = subCmdCancel
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, response bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		err := dev.Close()
		if err != nil {
			slog.Warn("could not close adapter handle", "error", err)
		}
	}()
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "request", hex.EncodeToString(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if !response {
		return nil
	}
	timer := time.NewTimer(d.responseWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "response", hex.EncodeToString(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
