package tensor

import (
	"fmt"
	"strings"
)

// Shape describes the dimensions of a tensor as an ordered list.
//
// Dense layers use [batch, features]; convolutional layers use
// [batch, channels, height, width].
type Shape []int

// NumElements returns the total number of elements a tensor of this
// shape holds. An empty shape has zero elements.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Equal reports whether two shapes have identical rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Validate returns a ShapeError if any dimension is non-positive.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return &ShapeError{Detail: "empty shape"}
	}
	for i, dim := range s {
		if dim <= 0 {
			return &ShapeError{
				Got:    s.Clone(),
				Detail: fmt.Sprintf("dimension %d is %d, must be positive", i, dim),
			}
		}
	}
	return nil
}

// String renders the shape as "(d0, d1, ...)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
