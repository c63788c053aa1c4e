package regbus

import "fmt"

const (
	// CoreClockHighSpeed is the BSC core clock with the high speed core enabled.
	CoreClockHighSpeed uint32 = 250_000_000
	// CoreClockStandard is the BSC core clock in standard mode.
	CoreClockStandard uint32 = 150_000_000

	minDivider = 2
	maxDivider = 0xFFFE
)

// CoreClock returns the clock the divider is applied to.
func CoreClock(highSpeed bool) uint32 {
	if highSpeed {
		return CoreClockHighSpeed
	}
	return CoreClockStandard
}

// ClockDivider returns the BSC clock divider for the requested frequency together with
// the frequency it produces. The divider is always even and the achieved frequency never
// exceeds the request unless the request is above core/2.
func ClockDivider(requested uint32, highSpeed bool) (uint16, uint32, error) {
	if requested == 0 {
		return 0, 0, fmt.Errorf("%w: bus frequency must be positive", ErrInvalidArgument)
	}
	core := CoreClock(highSpeed)
	div := (core + requested - 1) / requested
	// hardware ignores the least significant bit
	if div%2 != 0 {
		div++
	}
	div = max(div, minDivider)
	if div > maxDivider {
		return 0, 0, fmt.Errorf("%w: bus frequency %d Hz is below the minimum of %d Hz", ErrInvalidArgument, requested, (core+maxDivider-1)/maxDivider)
	}
	return uint16(div), core / div, nil
}
