package per

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is matched by every *TruncatedError.
	ErrTruncated = errors.New("per: truncated input")
	// ErrValueOutOfRange reports a decoded value outside its declared constraint.
	ErrValueOutOfRange = errors.New("per: value out of range")
	// ErrUnsupported reports an encoding this codec does not handle, such as
	// an integer wider than 64 bits.
	ErrUnsupported = errors.New("per: unsupported encoding")
	// ErrMalformed reports an encoding that violates X.691 framing.
	ErrMalformed = errors.New("per: malformed encoding")
)

// TruncatedError is returned when a read needs more bits than remain.
type TruncatedError struct {
	Needed    int // bits
	Available int // bits
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("per: truncated input: needed %d bits, %d available", e.Needed, e.Available)
}

func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}

func outOfRange(v, lb, ub int64) error {
	return fmt.Errorf("%w: %d not in [%d,%d]", ErrValueOutOfRange, v, lb, ub)
}
