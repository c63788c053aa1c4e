//go:build !linux

package i2c

import "github.com/mklimuk/regbus"

func ErrnoStatus(err error) regbus.Status {
	return regbus.StatusUnknown
}
