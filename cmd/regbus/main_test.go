package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/regbus"
	"github.com/mklimuk/regbus/bustest"
	"github.com/mklimuk/regbus/cmd/regbus/console"
	"github.com/mklimuk/regbus/register"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	console.SetOutput(out, errOut)
	t.Cleanup(func() { console.SetOutput(&bytes.Buffer{}, &bytes.Buffer{}) })
	return out, errOut
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		given    string
		bits     int
		expected uint64
		err      bool
	}{
		{"5c", 7, 0x5C, false},
		{"0x5C", 7, 0x5C, false},
		{"80", 7, 0, true},
		{"ffffff", 24, 0xFFFFFF, false},
		{"1000000", 24, 0, true},
		{"zz", 8, 0, true},
	}
	for _, test := range tests {
		t.Run(test.given, func(t *testing.T) {
			v, err := parseUint(test.given, test.bits)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, v)
		})
	}
}

func TestParseBytes(t *testing.T) {
	data, err := parseBytes([]string{"2090", "0x1", "ab"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x90, 0x01, 0xAB}, data)

	_, err = parseBytes(nil)
	assert.Error(t, err)
	_, err = parseBytes([]string{"g0"})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0x09", formatValue(0x09, 8))
	assert.Equal(t, "0x0102", formatValue(0x0102, 16))
	assert.Equal(t, "0x123456", formatValue(0x123456, 24))
	assert.Equal(t, "0x00000001", formatValue(1, 32))
}

func TestExecute(t *testing.T) {
	out, _ := capture(t)
	slave := bustest.NewSlave()
	ctx := context.Background()
	err := regbus.Use(ctx, slave, func(ctx context.Context, ctrl *regbus.Controller) error {
		dev, err := register.Open(ctx, ctrl, 100_000, 0x5C)
		require.NoError(t, err)
		defer dev.Close()

		require.NoError(t, execute(ctx, dev, "set 20 90"))
		assert.Equal(t, byte(0x90), slave.Register(0x20))
		require.NoError(t, execute(ctx, dev, "set 28 123456 24"))
		require.NoError(t, execute(ctx, dev, "get 28 24"))
		require.NoError(t, execute(ctx, dev, "write 30 aa bb"))
		require.NoError(t, execute(ctx, dev, "dump 20 2"))
		require.NoError(t, execute(ctx, dev, ""))

		assert.Error(t, execute(ctx, dev, "set 20 100"))
		assert.Error(t, execute(ctx, dev, "get 20 12"))
		assert.Error(t, execute(ctx, dev, "dump f0 20"))
		assert.Error(t, execute(ctx, dev, "frobnicate"))
		assert.ErrorIs(t, execute(ctx, dev, "quit"), errQuit)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), slave.Register(0x30))
	assert.Contains(t, out.String(), "0x123456")
	assert.Contains(t, out.String(), "90 00")
}

func TestRun_Sim(t *testing.T) {
	out, errOut := capture(t)
	base := []string{"regbus", "-c", "", "-b", "sim", "-a", "5c"}

	assert.Equal(t, 0, run(append(base, "info")))
	assert.Contains(t, out.String(), "frequency: 100000")
	assert.Contains(t, out.String(), "0x5c")
	assert.Nil(t, regbus.ActiveSession())

	out.Reset()
	assert.Equal(t, 0, run(append(base, "set", "-w", "16", "10", "beef")))
	assert.Contains(t, out.String(), "0xbeef")

	assert.Equal(t, 1, run([]string{"regbus", "-c", "", "-b", "sim", "-a", "80", "info"}))
	assert.Equal(t, 1, run([]string{"regbus", "-c", "", "-b", "spi", "info"}))
	assert.Equal(t, 1, run(append(base, "get")))
	assert.Contains(t, errOut.String(), "expected 1 argument")
}
