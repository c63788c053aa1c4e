package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/register"
)

type frame struct {
	cmd  byte
	addr byte
	data []byte
	size int
}

// fakeHID emulates the I2C engine of the bridge in front of a single register file slave.
type fakeHID struct {
	slave     byte
	registers [256]byte
	pointer   byte
	divider   byte
	state     byte
	readData  []byte
	busy      bool
	rejected  bool
	failOpen  error
	frames    []frame
	cancelled int
	response  []byte
	closed    int
}

func (f *fakeHID) Write(b []byte) (int, error) {
	resp := make([]byte, reportSize)
	resp[0] = b[0]
	size := int(binary.LittleEndian.Uint16(b[1:3]))
	switch b[0] {
	case cmdStatus:
		if b[2] == subCmdCancel {
			f.cancelled++
			f.state = 0
		}
		if b[3] == subCmdSetSpeed {
			if f.rejected {
				resp[3] = 0x21
			} else {
				resp[3] = respSpeedAccepted
				f.divider = b[4]
			}
		}
		resp[8] = f.state
		resp[14] = f.divider
	case cmdWriteData, cmdWriteDataNoStop:
		f.frames = append(f.frames, frame{cmd: b[0], addr: b[3], data: append([]byte{}, b[4:4+size]...), size: size})
		if f.busy {
			resp[1] = respEngineBusy
			break
		}
		if b[3]>>1 != f.slave {
			f.state = stateAddressNACK
			break
		}
		data := b[4 : 4+size]
		if len(data) > 0 {
			f.pointer = data[0]
			for _, v := range data[1:] {
				f.registers[f.pointer] = v
				f.pointer++
			}
		}
	case cmdReadData, cmdReadDataRepeatedStart:
		f.frames = append(f.frames, frame{cmd: b[0], addr: b[3], size: size})
		if f.busy {
			resp[1] = respEngineBusy
			break
		}
		if b[3]>>1 != f.slave {
			f.state = stateAddressNACK
			break
		}
		f.readData = make([]byte, size)
		for i := range f.readData {
			f.readData[i] = f.registers[f.pointer]
			f.pointer++
		}
	case cmdGetData:
		if f.readData == nil {
			resp[1] = respGetDataError
			break
		}
		resp[3] = byte(len(f.readData))
		copy(resp[4:], f.readData)
		f.readData = nil
	default:
		return 0, fmt.Errorf("unexpected command %#02x", b[0])
	}
	f.response = resp
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	return copy(b, f.response), nil
}

func (f *fakeHID) Close() error {
	f.closed++
	return nil
}

func newTestAdapter(f *fakeHID) *MCP2221 {
	d := NewMCP2221(WithResponseWait(0))
	d.open = func() (hidDevice, error) {
		if f.failOpen != nil {
			return nil, f.failOpen
		}
		return f, nil
	}
	return d
}

func TestSpeedDivider(t *testing.T) {
	tests := []struct {
		requested uint32
		divider   byte
		achieved  uint32
	}{
		{100000, 117, 100000},
		{400000, 27, 400000},
		{1000000, 27, 400000},
		{50000, 237, 50000},
		{47000, 253, 46875},
		{33000, 0, 0},
		{0, 0, 0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d", test.requested), func(t *testing.T) {
			div, achieved, err := SpeedDivider(test.requested)
			if test.divider == 0 {
				assert.ErrorIs(t, err, regbus.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.divider, div)
			assert.Equal(t, test.achieved, achieved)
			assert.LessOrEqual(t, achieved, test.requested)
		})
	}
}

func TestMCP2221_Init(t *testing.T) {
	f := &fakeHID{}
	d := newTestAdapter(f)
	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, 1, f.closed)

	f.failOpen = errors.New("MCP2221 device not found")
	assert.Error(t, d.Init(context.Background()))
}

func TestMCP2221_SetBaudRate(t *testing.T) {
	f := &fakeHID{}
	d := newTestAdapter(f)
	achieved, err := d.SetBaudRate(100000, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(100000), achieved)
	assert.Equal(t, byte(117), f.divider)

	f.rejected = true
	_, err = d.SetBaudRate(400000, false)
	assert.Equal(t, regbus.StatusBusy, regbus.StatusOf(err))
}

func TestMCP2221_WriteThenRead(t *testing.T) {
	f := &fakeHID{slave: 0x5C}
	f.registers[0x28] = 0x12
	f.registers[0x29] = 0x34
	d := newTestAdapter(f)
	require.NoError(t, d.SetSlaveAddress(0x5C))

	buf := make([]byte, 2)
	require.NoError(t, d.WriteThenRead(context.Background(), 0x28, buf))
	assert.Equal(t, []byte{0x12, 0x34}, buf)
	assert.Equal(t, []frame{
		{cmd: cmdWriteDataNoStop, addr: 0xB8, data: []byte{0x28}, size: 1},
		{cmd: cmdReadDataRepeatedStart, addr: 0xB9, size: 2},
	}, f.frames)
}

func TestMCP2221_WriteRead(t *testing.T) {
	f := &fakeHID{slave: 0x20}
	d := newTestAdapter(f)
	require.NoError(t, d.SetSlaveAddress(0x20))
	ctx := context.Background()

	require.NoError(t, d.Write(ctx, []byte{0x00, 0xAA, 0xBB}))
	assert.Equal(t, byte(0xAA), f.registers[0x00])
	assert.Equal(t, byte(0xBB), f.registers[0x01])

	require.NoError(t, d.Write(ctx, []byte{0x00}))
	buf := make([]byte, 2)
	require.NoError(t, d.Read(ctx, buf))
	assert.Equal(t, []byte{0xAA, 0xBB}, buf)
	assert.Equal(t, frame{cmd: cmdReadData, addr: 0x41, size: 2}, f.frames[len(f.frames)-1])
}

func TestMCP2221_NACK(t *testing.T) {
	f := &fakeHID{slave: 0x20}
	d := newTestAdapter(f)
	require.NoError(t, d.SetSlaveAddress(0x21))

	err := d.Write(context.Background(), []byte{0x00, 0x01})
	var terr *regbus.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, regbus.StatusNACK, terr.Status)
	assert.Equal(t, 1, f.cancelled)
	assert.Equal(t, byte(0), f.state)
}

func TestMCP2221_Busy(t *testing.T) {
	f := &fakeHID{slave: 0x20, busy: true}
	d := newTestAdapter(f)
	require.NoError(t, d.SetSlaveAddress(0x20))

	err := d.Read(context.Background(), make([]byte, 1))
	assert.Equal(t, regbus.StatusBusy, regbus.StatusOf(err))
	assert.ErrorIs(t, err, ErrEngineBusy)
}

func TestMCP2221_TransferLimit(t *testing.T) {
	f := &fakeHID{slave: 0x20}
	d := newTestAdapter(f)
	err := d.Write(context.Background(), make([]byte, MaxTransfer+1))
	assert.ErrorIs(t, err, regbus.ErrInvalidArgument)
	assert.Empty(t, f.frames)
}

func TestMCP2221_CancelledContext(t *testing.T) {
	f := &fakeHID{slave: 0x20}
	d := newTestAdapter(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Write(ctx, []byte{0x00})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBufferToStatus(t *testing.T) {
	buf := make([]byte, reportSize)
	buf[8] = stateAddressNACK
	buf[9], buf[10] = 0x02, 0x01
	buf[11] = 0x01
	buf[13] = 3
	buf[14] = 117
	buf[15] = 0x10
	buf[16], buf[17] = 0xB8, 0x00
	buf[25] = 1
	status := bufferToStatus(buf)
	assert.Equal(t, &MCP2221Status{
		I2CState:               stateAddressNACK,
		I2CDataBufferCounter:   3,
		I2CSpeedDivider:        117,
		I2CTimeout:             0x10,
		CurrentAddress:         "b800",
		LastWriteRequestedSize: 0x0102,
		LastWriteSentSize:      1,
		ReadPending:            1,
	}, status)
}

func TestMCP2221_ReleaseBus(t *testing.T) {
	f := &fakeHID{state: stateAddressNACK}
	d := newTestAdapter(f)
	status, err := d.ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.I2CState)
	assert.Equal(t, 1, f.cancelled)
}

func TestMCP2221_RegisterDevice(t *testing.T) {
	f := &fakeHID{slave: 0x20}
	ctrl := regbus.NewController(newTestAdapter(f))
	ctx := context.Background()
	require.NoError(t, ctrl.Acquire(ctx))
	defer ctrl.Release()

	dev, err := register.Open(ctx, ctrl, 100000, 0x20)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, uint32(100000), dev.Frequency())

	require.NoError(t, dev.Set16(ctx, 0x10, 0xBEEF))
	val, err := dev.Get16(ctx, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), val)
	assert.Equal(t, []byte{0x10, 0xBE, 0xEF}, f.frames[0].data)
}
