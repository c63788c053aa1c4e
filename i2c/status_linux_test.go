//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/mklimuk/regbus"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		given    error
		expected regbus.Status
	}{
		{fmt.Errorf("sysfs-i2c: %w", unix.EREMOTEIO), regbus.StatusNACK},
		{fmt.Errorf("sysfs-i2c: %v", unix.EREMOTEIO), regbus.StatusNACK},
		{fmt.Errorf("sysfs-i2c: %v", unix.ETIMEDOUT), regbus.StatusClockStretch},
		{unix.EBUSY, regbus.StatusBusy},
		{fmt.Errorf("sysfs-i2c: %v", unix.EIO), regbus.StatusData},
		{errors.New("something else"), regbus.StatusUnknown},
	}
	for _, test := range tests {
		t.Run(test.given.Error(), func(t *testing.T) {
			assert.Equal(t, test.expected, ErrnoStatus(test.given))
		})
	}
}
