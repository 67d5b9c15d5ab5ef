package graph

import (
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Flatten collapses all non-batch dimensions into one, turning a
// convolutional feature map into dense-layer input.
type Flatten struct{}

// NewFlatten creates a flatten op.
func NewFlatten() *Flatten { return &Flatten{} }

// Kind returns KindFlatten.
func (f *Flatten) Kind() Kind { return KindFlatten }

// OutShape collapses trailing dimensions.
func (f *Flatten) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindFlatten, len(inputs), 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if len(x) < 2 {
		return nil, &ShapeError{Op: "flatten", Got: x.Clone(), Detail: "input must have a batch axis"}
	}
	features := 1
	for _, dim := range x[1:] {
		features *= dim
	}
	return tensor.Shape{x[0], features}, nil
}

// Forward reshapes without copying.
func (f *Flatten) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	return x.Reshape(tensor.Shape{x.Shape()[0], x.NumElements() / x.Shape()[0]})
}

// Backward reshapes the upstream gradient back to the input layout.
func (f *Flatten) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	dx, err := upstream.Reshape(inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{dx}, nil
}
