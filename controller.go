package regbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// owner holds the controller that currently has the physical bus initialized.
var owner atomic.Pointer[Controller]

// Controller owns the lifecycle of the bus peripheral. Only one controller may have the
// bus acquired at any time.
type Controller struct {
	mx          sync.Mutex
	periph      Peripheral
	initialized bool
}

func NewController(periph Peripheral) *Controller {
	return &Controller{periph: periph}
}

// Acquire initializes the peripheral. Every successful Acquire must be paired with Release.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.initialized {
		return fmt.Errorf("%w: bus already acquired by this controller", ErrInvalidState)
	}
	if !owner.CompareAndSwap(nil, c) {
		return fmt.Errorf("%w: bus acquired by another controller", ErrBusBusy)
	}
	err := c.periph.Init(ctx)
	if err != nil {
		owner.Store(nil)
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	c.initialized = true
	slog.Debug("bus acquired")
	return nil
}

// Release closes the peripheral. It is safe to call on a controller that was never acquired.
// A session left open through this controller is closed first.
func (c *Controller) Release() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !c.initialized {
		return nil
	}
	if s := active.Load(); s != nil && s.ctrl == c {
		slog.Warn("releasing bus with an open session", "address", fmt.Sprintf("%#02x", s.address))
		s.close()
	}
	c.initialized = false
	owner.CompareAndSwap(c, nil)
	err := c.periph.Close()
	if err != nil {
		return fmt.Errorf("could not close bus peripheral: %w", err)
	}
	slog.Debug("bus released")
	return nil
}

// Acquired reports whether the controller currently holds the bus.
func (c *Controller) Acquired() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.initialized
}

// Open binds a new session to the slave at address. It fails with ErrBusBusy while any
// other session is active.
func (c *Controller) Open(ctx context.Context, address byte, frequency uint32, highSpeed bool) (*Session, error) {
	if address > 0x7F {
		return nil, fmt.Errorf("%w: slave address %#02x is not a 7-bit address", ErrInvalidArgument, address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if !c.initialized {
		return nil, fmt.Errorf("%w: bus not acquired", ErrInvalidState)
	}
	s := &Session{ctrl: c, periph: c.periph, address: address, highSpeed: highSpeed}
	if !active.CompareAndSwap(nil, s) {
		return nil, fmt.Errorf("%w: another session is active", ErrBusBusy)
	}
	achieved, err := c.periph.SetBaudRate(frequency, highSpeed)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("could not set bus frequency to %d Hz: %w", frequency, err)
	}
	s.frequency.Store(achieved)
	err = c.periph.SetSlaveAddress(address)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("could not set slave address %#02x: %w", address, err)
	}
	slog.Debug("bus session opened", "address", fmt.Sprintf("%#02x", address), "requested", frequency, "frequency", achieved, "highSpeed", highSpeed)
	return s, nil
}

// Use acquires the bus for the duration of fn. The bus is released on every exit path and
// a release failure is reported together with fn's error.
func Use(ctx context.Context, periph Peripheral, fn func(ctx context.Context, c *Controller) error) (err error) {
	c := NewController(periph)
	err = c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Release())
	}()
	return fn(ctx, c)
}
