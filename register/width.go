package register

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/regbus"
)

// All multi-byte registers are big-endian: the first byte on the wire is the most significant.

const max24 = 1<<24 - 1

func (d *Device) Get8(ctx context.Context, register byte) (byte, error) {
	data, err := d.ReadRegister(ctx, register, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (d *Device) Get16(ctx context.Context, register byte) (uint16, error) {
	data, err := d.ReadRegister(ctx, register, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data), nil
}

func (d *Device) Get24(ctx context.Context, register byte) (uint32, error) {
	data, err := d.ReadRegister(ctx, register, 3)
	if err != nil {
		return 0, err
	}
	return uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2]), nil
}

func (d *Device) Get32(ctx context.Context, register byte) (uint32, error) {
	data, err := d.ReadRegister(ctx, register, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

func (d *Device) Set8(ctx context.Context, register byte, value byte) error {
	return d.WriteRegister(ctx, register, []byte{value})
}

func (d *Device) Set16(ctx context.Context, register byte, value uint16) error {
	return d.WriteRegister(ctx, register, binary.BigEndian.AppendUint16(nil, value))
}

// Set24 writes the lower 24 bits of value. Values that do not fit are rejected.
func (d *Device) Set24(ctx context.Context, register byte, value uint32) error {
	if value > max24 {
		return fmt.Errorf("%w: %#x does not fit in 24 bits", regbus.ErrInvalidArgument, value)
	}
	return d.WriteRegister(ctx, register, []byte{byte(value >> 16), byte(value >> 8), byte(value)})
}

func (d *Device) Set32(ctx context.Context, register byte, value uint32) error {
	return d.WriteRegister(ctx, register, binary.BigEndian.AppendUint32(nil, value))
}
