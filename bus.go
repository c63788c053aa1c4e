// Package regbus provides exclusive access to a shared I2C bus and the sessions
// used to talk to a single addressed slave on it.
package regbus

import (
	"context"
)

// Initializer maps and releases the underlying bus peripheral.
type Initializer interface {
	Init(ctx context.Context) error
	Close() error
}

// Configurer sets the target of subsequent transactions and the bus clock.
type Configurer interface {
	SetSlaveAddress(address byte) error
	// SetBaudRate configures the clock for the requested frequency (Hz) and returns the
	// frequency the hardware actually runs at.
	SetBaudRate(requested uint32, highSpeed bool) (uint32, error)
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

// RegisterReader performs a combined transaction: the register index is written and
// len(buffer) bytes are read after a repeated start, without releasing the bus.
type RegisterReader interface {
	WriteThenRead(ctx context.Context, register byte, buffer []byte) error
}

// Peripheral is the hardware boundary of the bus. Implementations are not required to
// be safe for concurrent transfers.
type Peripheral interface {
	Initializer
	Configurer
	BusWriter
	BusReader
	RegisterReader
}
