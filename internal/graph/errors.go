package graph

import (
	"fmt"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// ShapeError is re-exported from the tensor package so graph callers
// can match it without importing both packages.
type ShapeError = tensor.ShapeError

// ConfigurationError reports an invalid hyperparameter passed to an
// operation or layer builder: a non-positive size, an unrecognized
// padding mode, a dropout rate outside [0, 1).
type ConfigurationError struct {
	Op     string // op or builder being configured
	Field  string // offending parameter
	Detail string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := "invalid configuration"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// StateError reports an operation invoked on a graph before a required
// upstream binding, e.g. running forward with no data bound to the
// feeder, or collecting gradients before a backward pass.
type StateError struct {
	Op     string // graph operation that failed
	Detail string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return e.Detail
}
