package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("integer overflow")

// IntToByte converts v to a byte, failing outside [0, 255].
func IntToByte(v int) (byte, error) {
	if v < 0 || v > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %d does not fit in a byte", ErrOverflow, v)
	}
	return byte(v), nil
}

// IntToUint32 converts v to a uint32, failing for negative or too large values.
func IntToUint32(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d cannot be converted to uint32 (negative)", ErrOverflow, v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d cannot be converted to uint32 (too large)", ErrOverflow, v)
	}
	return uint32(v), nil
}
