package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is matched by every ShapeMismatchError.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeMismatchError reports tensors whose shapes violate a static contract:
// prediction and label disagreeing on a dimension, a wrong rank, or a channel
// count not divisible by the anchors per grid cell.
type ShapeMismatchError struct {
	Op     string // Operation that rejected the input (e.g. "decode")
	Want   Shape  // Expected shape, if known
	Got    Shape  // Observed shape
	Detail string // Additional details
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("%s: shape mismatch: want %v, got %v: %s", e.Op, e.Want, e.Got, e.Detail)
	}
	return fmt.Sprintf("%s: shape mismatch: got %v: %s", e.Op, e.Got, e.Detail)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// CheckSameShape returns a ShapeMismatchError naming the first differing
// dimension when got does not equal want.
func CheckSameShape(op string, want, got Shape) error {
	i := want.FirstMismatch(got)
	if i < 0 {
		return nil
	}
	detail := fmt.Sprintf("rank %d vs %d", len(want), len(got))
	if len(want) == len(got) {
		detail = fmt.Sprintf("dimension %d: %d vs %d", i, want[i], got[i])
	}
	return &ShapeMismatchError{Op: op, Want: want.Clone(), Got: got.Clone(), Detail: detail}
}
