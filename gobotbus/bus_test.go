package gobotbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/register"
)

type fakeConn struct {
	i2c.Connection
	registers [256]byte
	pointer   byte
	written   [][]byte
	blockRegs []byte
	err       error
	closed    bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.written = append(c.written, append([]byte{}, b...))
	if len(b) > 0 {
		c.pointer = b[0]
		for _, v := range b[1:] {
			c.registers[c.pointer] = v
			c.pointer++
		}
	}
	return len(b), nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	for i := range b {
		b[i] = c.registers[c.pointer]
		c.pointer++
	}
	return len(b), nil
}

func (c *fakeConn) ReadBlockData(reg uint8, b []byte) error {
	if c.err != nil {
		return c.err
	}
	c.blockRegs = append(c.blockRegs, reg)
	c.pointer = reg
	_, err := c.Read(b)
	return err
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeAdaptor struct {
	conns      map[int]*fakeConn
	busNr      int
	connectErr error
	connected  bool
	finalized  bool
}

func (a *fakeAdaptor) GetI2cConnection(address int, busNr int) (i2c.Connection, error) {
	a.busNr = busNr
	c, ok := a.conns[address]
	if !ok {
		return nil, errors.New("no such device")
	}
	return c, nil
}

func (a *fakeAdaptor) DefaultI2cBus() int { return 0 }

func (a *fakeAdaptor) Connect() error {
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	return nil
}

func (a *fakeAdaptor) Finalize() error {
	a.finalized = true
	return nil
}

func TestBus_Lifecycle(t *testing.T) {
	conn := &fakeConn{}
	a := &fakeAdaptor{conns: map[int]*fakeConn{0x5C: conn}}
	b := NewBus(a, 2, 0)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx))
	assert.True(t, a.connected)
	assert.ErrorIs(t, b.Write(ctx, []byte{0x00}), ErrNoConnection)

	require.NoError(t, b.SetSlaveAddress(0x5C))
	assert.Equal(t, 2, a.busNr)
	assert.Error(t, b.SetSlaveAddress(0x10))
	assert.True(t, conn.closed)

	require.NoError(t, b.Close())
	assert.True(t, a.finalized)
}

func TestBus_InitError(t *testing.T) {
	a := &fakeAdaptor{connectErr: errors.New("no i2c device")}
	b := NewBus(a, 0, 0)
	assert.Error(t, b.Init(context.Background()))
}

func TestBus_SetBaudRate(t *testing.T) {
	b := NewBus(&fakeAdaptor{}, 0, 400_000)
	achieved, err := b.SetBaudRate(100_000, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(400_000), achieved)

	achieved, err = NewBus(&fakeAdaptor{}, 0, 0).SetBaudRate(400_000, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultSpeed), achieved)

	_, err = b.SetBaudRate(0, true)
	assert.ErrorIs(t, err, regbus.ErrInvalidArgument)
}

func TestBus_TransferError(t *testing.T) {
	injected := errors.New("bus failure")
	conn := &fakeConn{err: injected}
	b := NewBus(&fakeAdaptor{conns: map[int]*fakeConn{0x20: conn}}, 0, 0)
	require.NoError(t, b.SetSlaveAddress(0x20))

	err := b.Read(context.Background(), make([]byte, 2))
	var terr *regbus.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	assert.ErrorIs(t, err, injected)
}

func TestBus_BlockReadLimit(t *testing.T) {
	conn := &fakeConn{}
	b := NewBus(&fakeAdaptor{conns: map[int]*fakeConn{0x20: conn}}, 0, 0)
	require.NoError(t, b.SetSlaveAddress(0x20))
	ctx := context.Background()

	require.NoError(t, b.WriteThenRead(ctx, 0x00, make([]byte, MaxBlockRead)))
	err := b.WriteThenRead(ctx, 0x00, make([]byte, MaxBlockRead+1))
	assert.ErrorIs(t, err, regbus.ErrInvalidArgument)
	var terr *regbus.TransferError
	assert.False(t, errors.As(err, &terr), "argument errors are not bus failures")
	assert.Equal(t, []byte{0x00}, conn.blockRegs)
}

func TestBus_RegisterDevice(t *testing.T) {
	conn := &fakeConn{}
	a := &fakeAdaptor{conns: map[int]*fakeConn{0x20: conn}}
	ctx := context.Background()
	err := regbus.Use(ctx, NewBus(a, 1, 0), func(ctx context.Context, ctrl *regbus.Controller) error {
		dev, err := register.Open(ctx, ctrl, 100_000, 0x20)
		require.NoError(t, err)
		defer dev.Close()
		assert.Equal(t, uint32(DefaultSpeed), dev.Frequency())

		require.NoError(t, dev.Set32(ctx, 0x40, 0xDEADBEEF))
		v, err := dev.Get32(ctx, 0x40)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xDEADBEEF), v)

		_, err = dev.ReadRegister(ctx, 0x00, MaxBlockRead+8)
		assert.ErrorIs(t, err, regbus.ErrInvalidArgument)
		var terr *regbus.TransferError
		assert.False(t, errors.As(err, &terr))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x40, 0xDE, 0xAD, 0xBE, 0xEF}}, conn.written)
	assert.Equal(t, []byte{0x40}, conn.blockRegs)
	assert.True(t, a.finalized)
}
