// Package tensor implements the dense float64 tensor the computation
// graph operates on.
//
// Tensors store their elements contiguously in row-major order, which
// keeps them directly usable as backing data for gonum matrices and as
// sections of the serialization format.
package tensor

import "fmt"

// Tensor is a dense, row-major float64 tensor.
//
// The zero value is not usable; construct tensors with New, FromSlice,
// Zeros or Full.
type Tensor struct {
	shape Shape
	data  []float64
}

// New creates a zero-filled tensor of the given shape.
//
// Returns a ShapeError if any requested dimension is non-positive.
func New(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float64, shape.NumElements()),
	}, nil
}

// Zeros is an alias for New kept for call-site readability.
func Zeros(shape Shape) (*Tensor, error) {
	return New(shape)
}

// Full creates a tensor of the given shape with every element set to v.
func Full(shape Shape, v float64) (*Tensor, error) {
	t, err := New(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.data {
		t.data[i] = v
	}
	return t, nil
}

// FromSlice creates a tensor that adopts data as its backing storage.
//
// The length of data must equal the number of elements of shape.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, &ShapeError{
			Got:    shape.Clone(),
			Detail: fmt.Sprintf("data length %d does not match %d elements", len(data), shape.NumElements()),
		}
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns the tensor's shape. The returned slice must not be mutated.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the backing slice in row-major order.
//
// Mutating the slice mutates the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// NumElements returns the total element count.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// Zero sets every element to zero in place.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Reshape returns a tensor sharing this tensor's storage with a new
// shape of the same element count.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(t.data) {
		return nil, &ShapeError{
			Op:     "reshape",
			Want:   t.shape.Clone(),
			Got:    shape.Clone(),
			Detail: "element counts differ",
		}
	}
	return &Tensor{shape: shape.Clone(), data: t.data}, nil
}

// SliceRows returns a tensor sharing storage with rows [from, to) along
// the leading dimension.
func (t *Tensor) SliceRows(from, to int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, &ShapeError{Op: "sliceRows", Detail: "scalar tensor has no rows"}
	}
	n := t.shape[0]
	if from < 0 || to > n || from >= to {
		return nil, &ShapeError{
			Op:     "sliceRows",
			Got:    t.shape.Clone(),
			Detail: fmt.Sprintf("row range [%d, %d) out of bounds for %d rows", from, to, n),
		}
	}
	rowSize := len(t.data) / n
	shape := t.shape.Clone()
	shape[0] = to - from
	return &Tensor{shape: shape, data: t.data[from*rowSize : to*rowSize]}, nil
}

// TakeRows gathers the given rows along the leading dimension into a
// freshly allocated tensor. Used to assemble shuffled mini-batches.
func (t *Tensor) TakeRows(indices []int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, &ShapeError{Op: "takeRows", Detail: "scalar tensor has no rows"}
	}
	if len(indices) == 0 {
		return nil, &ShapeError{Op: "takeRows", Detail: "no rows requested"}
	}
	n := t.shape[0]
	rowSize := len(t.data) / n
	shape := t.shape.Clone()
	shape[0] = len(indices)
	out, err := New(shape)
	if err != nil {
		return nil, err
	}
	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, &ShapeError{
				Op:     "takeRows",
				Got:    t.shape.Clone(),
				Detail: fmt.Sprintf("row index %d out of bounds for %d rows", idx, n),
			}
		}
		copy(out.data[i*rowSize:(i+1)*rowSize], t.data[idx*rowSize:(idx+1)*rowSize])
	}
	return out, nil
}

// String renders a short description, not the full contents.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.shape)
}
