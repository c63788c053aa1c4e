// Package gpio drives the MCP23017 16-bit I/O expander through its register file.
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/regbus"
)

type registry int

const DefaultMCP23017Address = 0x21

// iocon.BANK selects the register map
const ioconBank = 0x80

const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

// BankAddr maps registers to addresses for IOCON.BANK=0 (interleaved) and IOCON.BANK=1 (split).
var BankAddr = []map[registry]byte{
	{
		IODIRA:   0x00,
		IOPOLA:   0x02,
		GPINTENA: 0x04,
		DEFVALA:  0x06,
		INTCONA:  0x08,
		IOCONA:   0x0A,
		GPPUA:    0x0C,
		INTFA:    0x0E,
		INTCAPA:  0x10,
		GPIOA:    0x12,
		OLATA:    0x14,
		IODIRB:   0x01,
		IOPOLB:   0x03,
		GPINTENB: 0x05,
		DEFVALB:  0x07,
		INTCONB:  0x09,
		IOCONB:   0x0B,
		GPPUB:    0x0D,
		INTFB:    0x0F,
		INTCAPB:  0x11,
		GPIOB:    0x13,
		OLATB:    0x15,
	},
	{
		IODIRA:   0x00,
		IOPOLA:   0x01,
		GPINTENA: 0x02,
		DEFVALA:  0x03,
		INTCONA:  0x04,
		IOCONA:   0x05,
		GPPUA:    0x06,
		INTFA:    0x07,
		INTCAPA:  0x08,
		GPIOA:    0x09,
		OLATA:    0x0A,
		IODIRB:   0x10,
		IOPOLB:   0x11,
		GPINTENB: 0x12,
		DEFVALB:  0x13,
		INTCONB:  0x14,
		IOCONB:   0x15,
		GPPUB:    0x16,
		INTFB:    0x17,
		INTCAPB:  0x18,
		GPIOB:    0x19,
		OLATB:    0x1A,
	},
}

// Registers is the register access the expander needs; *register.Device implements it.
type Registers interface {
	Get8(ctx context.Context, register byte) (byte, error)
	Set8(ctx context.Context, register byte, value byte) error
}

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR registry (all inputs)
2. Configure pull-up (GPPU)
3. Read port register (GPIO)
*/
type MCP23017 struct {
	mx         sync.Mutex
	regs       Registers
	bank       int
	retryLimit int
	retryWait  time.Duration
}

type Option func(*MCP23017)

// WithRetry retries transfers failing with a busy bus up to limit attempts in total.
func WithRetry(limit int, wait time.Duration) Option {
	return func(m *MCP23017) {
		m.retryLimit = max(limit, 1)
		m.retryWait = wait
	}
}

func NewMCP23017(regs Registers, opts ...Option) *MCP23017 {
	m := &MCP23017{regs: regs, retryLimit: 1, retryWait: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// retry runs op again while it fails with a busy bus status.
func (m *MCP23017) retry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < m.retryLimit; i++ {
		if i > 0 {
			slog.Debug("bus busy, retrying", "op", name, "attempt", i+1)
			select {
			case <-time.After(m.retryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = op()
		if err == nil {
			return nil
		}
		if regbus.StatusOf(err) != regbus.StatusBusy {
			return fmt.Errorf("could not %s: %w", name, err)
		}
	}
	return fmt.Errorf("could not %s (retry limit reached): %w", name, err)
}

func (m *MCP23017) set(ctx context.Context, name string, reg registry, value byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	addr := BankAddr[m.bank][reg]
	return m.retry(ctx, name, func() error {
		return m.regs.Set8(ctx, addr, value)
	})
}

func (m *MCP23017) get(ctx context.Context, name string, reg registry) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	addr := BankAddr[m.bank][reg]
	var res byte
	err := m.retry(ctx, name, func() error {
		var err error
		res, err = m.regs.Get8(ctx, addr)
		return err
	})
	return res, err
}

// InitA sets IODIR registry to inout on I/O pool A (1 = input)
func (m *MCP23017) InitA(ctx context.Context, inout byte) error {
	return m.set(ctx, "initialize gpio A set", IODIRA, inout)
}

// InitB sets IODIR registry to inout on I/O pool B (1 = input)
func (m *MCP23017) InitB(ctx context.Context, inout byte) error {
	return m.set(ctx, "initialize gpio B set", IODIRB, inout)
}

// PullUpA sets up pull up resistors on set A
func (m *MCP23017) PullUpA(ctx context.Context, settings byte) error {
	return m.set(ctx, "set pull-up on gpio A set", GPPUA, settings)
}

// PullUpB sets up pull up resistors on set B
func (m *MCP23017) PullUpB(ctx context.Context, settings byte) error {
	return m.set(ctx, "set pull-up on gpio B set", GPPUB, settings)
}

func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadA(ctx)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadB(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReadA reads gpio A set values
func (m *MCP23017) ReadA(ctx context.Context) (byte, error) {
	return m.get(ctx, "read gpio A set", GPIOA)
}

// ReadB reads gpio B set values
func (m *MCP23017) ReadB(ctx context.Context) (byte, error) {
	return m.get(ctx, "read gpio B set", GPIOB)
}

// WriteA sets the output latch of set A
func (m *MCP23017) WriteA(ctx context.Context, value byte) error {
	return m.set(ctx, "write gpio A latch", OLATA, value)
}

// WriteB sets the output latch of set B
func (m *MCP23017) WriteB(ctx context.Context, value byte) error {
	return m.set(ctx, "write gpio B latch", OLATB, value)
}

// ReadSettingsA reads contents of IOCON registry
func (m *MCP23017) ReadSettingsA(ctx context.Context) (byte, error) {
	return m.get(ctx, "read gpio A settings", IOCONA)
}

// ReadSettingsB reads contents of IOCON registry
func (m *MCP23017) ReadSettingsB(ctx context.Context) (byte, error) {
	return m.get(ctx, "read gpio B settings", IOCONB)
}

// WriteSettingsA writes IOCON; a change of the BANK bit switches the register map.
func (m *MCP23017) WriteSettingsA(ctx context.Context, settings byte) error {
	err := m.set(ctx, "write settings on gpio A set", IOCONA, settings)
	if err != nil {
		return err
	}
	m.setBank(settings)
	return nil
}

func (m *MCP23017) WriteSettingsB(ctx context.Context, settings byte) error {
	err := m.set(ctx, "write settings on gpio B set", IOCONB, settings)
	if err != nil {
		return err
	}
	m.setBank(settings)
	return nil
}

func (m *MCP23017) setBank(settings byte) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if settings&ioconBank != 0 {
		m.bank = 1
	} else {
		m.bank = 0
	}
}

// Bank returns the register map in use (0 interleaved, 1 split).
func (m *MCP23017) Bank() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.bank
}
