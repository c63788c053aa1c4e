// Package bustest provides a simulated register file slave implementing regbus.Peripheral.
// Every transaction is recorded so framing can be asserted byte by byte.
package bustest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/regbus"
)

type Kind int

const (
	KindWrite Kind = iota
	KindRead
	KindWriteRead
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindWriteRead:
		return "write-read"
	default:
		return "unknown"
	}
}

// Transaction is a single start..stop sequence seen on the simulated bus.
type Transaction struct {
	Kind    Kind
	Address byte
	// Write holds the bytes sent by the controller (register index included).
	Write []byte
	// Read holds the bytes returned by the slave.
	Read []byte
}

var _ regbus.Peripheral = &Slave{}

var ErrNotInitialized = errors.New("simulated bus not initialized")

// Slave emulates a device with a 256 byte register file and an auto-incrementing register
// pointer. The first byte of every write sets the pointer, the remaining bytes are stored
// from there on; reads return bytes from the pointer on.
type Slave struct {
	mx          sync.Mutex
	registers   [256]byte
	pointer     byte
	address     byte
	initialized bool
	frequency   uint32
	highSpeed   bool
	txs         []Transaction
	failures    []regbus.Status

	// InitErr is returned by Init when set.
	InitErr error
	// Divider computes the achieved frequency. Defaults to the BCM2835 divider table.
	Divider func(requested uint32, highSpeed bool) (uint32, error)
}

func NewSlave() *Slave {
	return &Slave{}
}

func (s *Slave) Init(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.InitErr != nil {
		return s.InitErr
	}
	s.initialized = true
	return nil
}

func (s *Slave) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.initialized = false
	return nil
}

func (s *Slave) SetSlaveAddress(address byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.address = address
	return nil
}

func (s *Slave) SetBaudRate(requested uint32, highSpeed bool) (uint32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	var achieved uint32
	var err error
	if s.Divider != nil {
		achieved, err = s.Divider(requested, highSpeed)
	} else {
		_, achieved, err = regbus.ClockDivider(requested, highSpeed)
	}
	if err != nil {
		return 0, err
	}
	s.frequency = achieved
	s.highSpeed = highSpeed
	return achieved, nil
}

func (s *Slave) Write(ctx context.Context, buffer []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	tx := Transaction{Kind: KindWrite, Address: s.address, Write: clone(buffer)}
	if err := s.fail(&tx); err != nil {
		return err
	}
	if len(buffer) > 0 {
		s.pointer = buffer[0]
		for _, b := range buffer[1:] {
			s.registers[s.pointer] = b
			s.pointer++
		}
	}
	s.txs = append(s.txs, tx)
	return nil
}

func (s *Slave) Read(ctx context.Context, buffer []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	tx := Transaction{Kind: KindRead, Address: s.address}
	if err := s.fail(&tx); err != nil {
		return err
	}
	s.readInto(buffer)
	tx.Read = clone(buffer)
	s.txs = append(s.txs, tx)
	return nil
}

func (s *Slave) WriteThenRead(ctx context.Context, register byte, buffer []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	tx := Transaction{Kind: KindWriteRead, Address: s.address, Write: []byte{register}}
	if err := s.fail(&tx); err != nil {
		return err
	}
	s.pointer = register
	s.readInto(buffer)
	tx.Read = clone(buffer)
	s.txs = append(s.txs, tx)
	return nil
}

func (s *Slave) readInto(buffer []byte) {
	for i := range buffer {
		buffer[i] = s.registers[s.pointer]
		s.pointer++
	}
}

// fail records the transaction and returns an error if a failure has been queued.
func (s *Slave) fail(tx *Transaction) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if len(s.failures) == 0 {
		return nil
	}
	status := s.failures[0]
	s.failures = s.failures[1:]
	s.txs = append(s.txs, *tx)
	return regbus.NewTransferError(tx.Kind.String(), status, fmt.Errorf("simulated %s", status))
}

// FailNext makes the next transactions fail with the given statuses, in order.
func (s *Slave) FailNext(statuses ...regbus.Status) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Load copies data into the register file starting at register.
func (s *Slave) Load(register byte, data ...byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, b := range data {
		s.registers[register] = b
		register++
	}
}

// Register returns the current content of a register without touching the bus.
func (s *Slave) Register(register byte) byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.registers[register]
}

// Transactions returns a copy of the recorded transactions.
func (s *Slave) Transactions() []Transaction {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

func (s *Slave) Reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.txs = nil
	s.failures = nil
}

func (s *Slave) Initialized() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.initialized
}

func (s *Slave) Address() byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.address
}

func (s *Slave) Frequency() uint32 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.frequency
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
