package dispatcher

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrAddressReadback means an address register did not hold the value
	// just written to it. The job is not started.
	ErrAddressReadback = errors.New("dispatcher: address read-back mismatch")
)

// ReadbackError records the first address slot that failed read-back.
type ReadbackError struct {
	Slot int
	Want uint64
	Got  uint64
}

func (e *ReadbackError) Error() string {
	return fmt.Sprintf("dispatcher: address slot %d read back %#x, wrote %#x", e.Slot, e.Got, e.Want)
}

func (e *ReadbackError) Is(target error) bool {
	return target == ErrAddressReadback
}
