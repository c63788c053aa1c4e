// Package register implements register oriented access to a single slave on the bus.
//
// A Device moves through three states: it is created Unbound, becomes Bound once Open
// succeeds and ends Closed. Transfers are only valid while the device is Bound.
//
// Every synchronous operation is the asynchronous variant followed by Wait, so both
// produce the same frames on the wire. At most one transfer may be outstanding on the
// bus at a time; overlapping asynchronous calls are not queued.
package register

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/regbus"
)

type State int32

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	HighSpeed bool
}

type Option func(*Options)

// WithStandardCore disables the high speed core clock.
func WithStandardCore() Option {
	return func(o *Options) {
		o.HighSpeed = false
	}
}

func WithHighSpeed(enabled bool) Option {
	return func(o *Options) {
		o.HighSpeed = enabled
	}
}

// Device is one addressed slave on the bus.
type Device struct {
	mx      sync.RWMutex
	ctrl    *regbus.Controller
	config  Options
	state   State
	session *regbus.Session
}

// New returns an unbound device on the controller's bus.
func New(ctrl *regbus.Controller, opts ...Option) *Device {
	config := Options{HighSpeed: true}
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{ctrl: ctrl, config: config}
}

// Open creates a device and binds it to address at the requested frequency.
func Open(ctx context.Context, ctrl *regbus.Controller, frequency uint32, address byte, opts ...Option) (*Device, error) {
	d := New(ctrl, opts...)
	_, err := d.Open(ctx, frequency, address)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Open binds the device to the slave and returns the negotiated bus frequency, which may
// differ from the requested one. It fails with regbus.ErrBusBusy while another device is bound.
func (d *Device) Open(ctx context.Context, frequency uint32, address byte) (uint32, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.state != StateUnbound {
		return 0, fmt.Errorf("%w: cannot open a %s device", regbus.ErrInvalidState, d.state)
	}
	session, err := d.ctrl.Open(ctx, address, frequency, d.config.HighSpeed)
	if err != nil {
		return 0, err
	}
	d.session = session
	d.state = StateBound
	return session.Frequency(), nil
}

// Close releases the bus session. It is a no-op unless the device is bound.
func (d *Device) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.state != StateBound {
		return nil
	}
	d.state = StateClosed
	err := d.session.Close()
	if err != nil {
		return fmt.Errorf("could not close bus session: %w", err)
	}
	return nil
}

// State reports Closed once the session was closed underneath the device, e.g. by
// Controller.Release.
func (d *Device) State() State {
	d.mx.RLock()
	defer d.mx.RUnlock()
	return d.current()
}

func (d *Device) current() State {
	if d.state == StateBound && !d.session.Active() {
		return StateClosed
	}
	return d.state
}

// Frequency returns the negotiated bus frequency or 0 if the device was never bound.
func (d *Device) Frequency() uint32 {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if d.session == nil {
		return 0
	}
	return d.session.Frequency()
}

func (d *Device) Address() byte {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if d.session == nil {
		return 0
	}
	return d.session.Address()
}

func (d *Device) HighSpeed() bool {
	return d.config.HighSpeed
}

func (d *Device) bound() (*regbus.Session, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if state := d.current(); state != StateBound {
		return nil, fmt.Errorf("%w: device is %s", regbus.ErrInvalidState, state)
	}
	return d.session, nil
}

// Write transmits buffer[offset:] as one transaction. The payload must not be empty.
func (d *Device) Write(ctx context.Context, buffer []byte, offset int) error {
	if _, err := d.bound(); err != nil {
		return err
	}
	if offset < 0 || offset >= len(buffer) {
		return fmt.Errorf("%w: offset %d leaves nothing to write from %d byte buffer", regbus.ErrInvalidArgument, offset, len(buffer))
	}
	return d.WriteAsync(ctx, buffer[offset:]).Err()
}

// Read reads exactly count bytes into buffer starting at offset and returns count.
func (d *Device) Read(ctx context.Context, buffer []byte, offset, count int) (int, error) {
	if _, err := d.bound(); err != nil {
		return 0, err
	}
	if offset < 0 || count < 0 || offset+count > len(buffer) {
		return 0, fmt.Errorf("%w: cannot read %d bytes at offset %d into %d byte buffer", regbus.ErrInvalidArgument, count, offset, len(buffer))
	}
	data, err := d.ReadAsync(ctx, count).Wait()
	if err != nil {
		return 0, err
	}
	return copy(buffer[offset:offset+count], data), nil
}

// ReadRegister reads count bytes starting at register in one combined transaction.
func (d *Device) ReadRegister(ctx context.Context, register byte, count int) ([]byte, error) {
	return d.ReadRegisterAsync(ctx, register, count).Wait()
}

// WriteRegister sends [register]+payload as a single frame.
func (d *Device) WriteRegister(ctx context.Context, register byte, payload []byte) error {
	return d.WriteRegisterAsync(ctx, register, payload).Err()
}

// WriteAsync transmits a copy of data as one transaction.
func (d *Device) WriteAsync(ctx context.Context, data []byte) *Future[struct{}] {
	session, err := d.bound()
	if err != nil {
		return failed[struct{}](err)
	}
	if len(data) == 0 {
		return failed[struct{}](fmt.Errorf("%w: empty write", regbus.ErrInvalidArgument))
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return run(ctx, func() (struct{}, error) {
		return struct{}{}, session.Write(ctx, frame)
	})
}

// ReadAsync reads count bytes into a fresh buffer.
func (d *Device) ReadAsync(ctx context.Context, count int) *Future[[]byte] {
	session, err := d.bound()
	if err != nil {
		return failed[[]byte](err)
	}
	if count <= 0 {
		return failed[[]byte](fmt.Errorf("%w: read count must be positive, got %d", regbus.ErrInvalidArgument, count))
	}
	return run(ctx, func() ([]byte, error) {
		buf := make([]byte, count)
		err := session.Read(ctx, buf)
		if err != nil {
			return nil, err
		}
		return buf, nil
	})
}

// ReadRegisterAsync reads count bytes from register using a repeated start.
func (d *Device) ReadRegisterAsync(ctx context.Context, register byte, count int) *Future[[]byte] {
	session, err := d.bound()
	if err != nil {
		return failed[[]byte](err)
	}
	if count <= 0 {
		return failed[[]byte](fmt.Errorf("%w: read count must be positive, got %d", regbus.ErrInvalidArgument, count))
	}
	return run(ctx, func() ([]byte, error) {
		buf := make([]byte, count)
		err := session.WriteThenRead(ctx, register, buf)
		if err != nil {
			return nil, err
		}
		return buf, nil
	})
}

// WriteRegisterAsync sends [register]+payload as a single frame.
func (d *Device) WriteRegisterAsync(ctx context.Context, register byte, payload []byte) *Future[struct{}] {
	session, err := d.bound()
	if err != nil {
		return failed[struct{}](err)
	}
	frame := make([]byte, len(payload)+1)
	frame[0] = register
	copy(frame[1:], payload)
	return run(ctx, func() (struct{}, error) {
		return struct{}{}, session.Write(ctx, frame)
	})
}
