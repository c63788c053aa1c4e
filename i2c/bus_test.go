package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/busctx"
)

type txCall struct {
	addr uint16
	w    []byte
	r    int
}

type fakeBus struct {
	txs    []txCall
	speed  physic.Frequency
	reply  []byte
	err    error
	closed bool
}

func (f *fakeBus) String() string { return "fake" }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	f.txs = append(f.txs, txCall{addr: addr, w: append([]byte(nil), w...), r: len(r)})
	if f.err != nil {
		return f.err
	}
	copy(r, f.reply)
	return nil
}

func (f *fakeBus) SetSpeed(freq physic.Frequency) error {
	f.speed = freq
	return nil
}

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

func newTestBus(fake *fakeBus) *GenericBus {
	b := NewGenericBus("/dev/i2c-1")
	b.hostInit = func() error { return nil }
	b.open = func(name string) (i2c.BusCloser, error) { return fake, nil }
	return b
}

func TestGenericBus_Transactions(t *testing.T) {
	fake := &fakeBus{reply: []byte{0x12, 0x34}}
	b := newTestBus(fake)
	ctx := busctx.SetVerbose(context.Background(), true)
	require.NoError(t, b.Init(ctx))
	require.NoError(t, b.SetSlaveAddress(0x5C))

	freq, err := b.SetBaudRate(10_000, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(10_000), freq)
	assert.Equal(t, 10*physic.KiloHertz, fake.speed)

	require.NoError(t, b.Write(ctx, []byte{0x20, 0x90}))
	buf := make([]byte, 2)
	require.NoError(t, b.WriteThenRead(ctx, 0x28, buf))
	assert.Equal(t, []byte{0x12, 0x34}, buf)
	require.NoError(t, b.Read(ctx, buf))

	assert.Equal(t, []txCall{
		{addr: 0x5C, w: []byte{0x20, 0x90}, r: 0},
		{addr: 0x5C, w: []byte{0x28}, r: 2},
		{addr: 0x5C, w: nil, r: 2},
	}, fake.txs)

	require.NoError(t, b.Close())
	assert.True(t, fake.closed)
	assert.NoError(t, b.Close())
}

func TestGenericBus_NotOpen(t *testing.T) {
	b := NewGenericBus("/dev/i2c-1")
	_, err := b.SetBaudRate(10_000, true)
	assert.ErrorIs(t, err, regbus.ErrInvalidState)
	err = b.Write(context.Background(), []byte{0x00})
	assert.ErrorIs(t, err, regbus.ErrInvalidState)
}

func TestGenericBus_InitFailure(t *testing.T) {
	b := NewGenericBus("/dev/i2c-9")
	b.hostInit = func() error { return nil }
	b.open = func(name string) (i2c.BusCloser, error) { return nil, errors.New("no such file or directory") }
	err := b.Init(context.Background())
	assert.ErrorContains(t, err, "/dev/i2c-9")
}

func TestGenericBus_TransferError(t *testing.T) {
	fake := &fakeBus{}
	b := newTestBus(fake)
	require.NoError(t, b.Init(context.Background()))
	fake.err = errors.New("bus exploded")
	err := b.Write(context.Background(), []byte{0x00})
	var terr *regbus.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)
}
