//go:build linux

package i2c

import (
	"errors"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mklimuk/regbus"
)

// ErrnoStatus maps i2c-dev errno values to bus status codes. periph formats some errors
// with %v so the errno text is matched as well.
func ErrnoStatus(err error) regbus.Status {
	switch {
	case is(err, unix.EREMOTEIO), is(err, unix.ENXIO):
		return regbus.StatusNACK
	case is(err, unix.ETIMEDOUT):
		return regbus.StatusClockStretch
	case is(err, unix.EBUSY), is(err, unix.EAGAIN):
		return regbus.StatusBusy
	case is(err, unix.EIO), is(err, unix.EPROTO):
		return regbus.StatusData
	default:
		return regbus.StatusUnknown
	}
}

func is(err error, errno unix.Errno) bool {
	return errors.Is(err, errno) || strings.Contains(err.Error(), errno.Error())
}
