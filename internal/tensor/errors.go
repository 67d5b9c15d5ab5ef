package tensor

import "fmt"

// ShapeError reports a tensor shape that is invalid on its own or
// incompatible with the shape another operation expects.
type ShapeError struct {
	Op     string // operation or node that detected the mismatch, may be empty
	Want   Shape  // expected shape, nil when not applicable
	Got    Shape  // offending shape, nil when not applicable
	Detail string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	msg := "shape error"
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Want != nil {
		msg += fmt.Sprintf(": want %s", e.Want)
	}
	if e.Got != nil {
		msg += fmt.Sprintf(", got %s", e.Got)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
