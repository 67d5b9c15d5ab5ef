// Copyright 2025 The Gradnet Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor re-exports the dense tensor type the computation
// graph operates on.
package tensor

import (
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Shape describes tensor dimensions as an ordered list.
type Shape = tensor.Shape

// Tensor is a dense, row-major float64 tensor.
type Tensor = tensor.Tensor

// ShapeError reports an invalid or incompatible tensor shape.
type ShapeError = tensor.ShapeError

// New creates a zero-filled tensor of the given shape.
func New(shape Shape) (*Tensor, error) {
	return tensor.New(shape)
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape Shape) (*Tensor, error) {
	return tensor.Zeros(shape)
}

// Full creates a tensor with every element set to v.
func Full(shape Shape, v float64) (*Tensor, error) {
	return tensor.Full(shape, v)
}

// FromSlice creates a tensor adopting data as its backing storage.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}
