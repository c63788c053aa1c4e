package regbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// active is the single global session slot.
var active atomic.Pointer[Session]

// ActiveSession returns the currently open session or nil.
func ActiveSession() *Session {
	return active.Load()
}

// Session is an exclusive binding of the bus to one slave address. It is created by
// Controller.Open and must be closed before another session can be opened.
type Session struct {
	ctrl      *Controller
	periph    Peripheral
	address   byte
	frequency atomic.Uint32
	highSpeed bool
	closed    atomic.Bool
}

func (s *Session) Address() byte { return s.address }

// Frequency returns the negotiated bus clock in Hz.
func (s *Session) Frequency() uint32 { return s.frequency.Load() }

func (s *Session) HighSpeed() bool { return s.highSpeed }

// Active reports whether the session still owns the bus.
func (s *Session) Active() bool {
	return !s.closed.Load() && active.Load() == s
}

// Close clears the global slot. Closing an already closed session is a no-op.
func (s *Session) Close() error {
	if s.close() {
		slog.Debug("bus session closed", "address", fmt.Sprintf("%#02x", s.address))
	}
	return nil
}

func (s *Session) close() bool {
	if s.closed.Swap(true) {
		return false
	}
	active.CompareAndSwap(s, nil)
	return true
}

func (s *Session) check() error {
	if !s.Active() {
		return fmt.Errorf("%w: session %#02x is closed", ErrInvalidState, s.address)
	}
	return nil
}

// Write transmits buffer as a single transaction.
func (s *Session) Write(ctx context.Context, buffer []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.periph.Write(ctx, buffer)
	if err != nil {
		return transferError("write", s.address, err)
	}
	return nil
}

// Read fills buffer from the slave in a single transaction.
func (s *Session) Read(ctx context.Context, buffer []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.periph.Read(ctx, buffer)
	if err != nil {
		return transferError("read", s.address, err)
	}
	return nil
}

// WriteThenRead writes the register index and reads into buffer in one combined transaction.
func (s *Session) WriteThenRead(ctx context.Context, register byte, buffer []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.periph.WriteThenRead(ctx, register, buffer)
	if err != nil {
		return transferError(fmt.Sprintf("read register %#02x", register), s.address, err)
	}
	return nil
}
