package graph

import (
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Variable holds a value tensor: either a trainable parameter or the
// graph's feeder that receives externally supplied data each step.
type Variable struct {
	value  *tensor.Tensor
	shape  tensor.Shape
	feeder bool
}

// NewVariable creates a variable holding the given value.
func NewVariable(value *tensor.Tensor) *Variable {
	return &Variable{value: value, shape: value.Shape().Clone()}
}

// newFeeder creates an unbound feeder variable with a declared shape.
func newFeeder(shape tensor.Shape) *Variable {
	return &Variable{shape: shape.Clone(), feeder: true}
}

// Kind returns KindVariable.
func (v *Variable) Kind() Kind { return KindVariable }

// Value returns the held tensor, nil for an unbound feeder.
func (v *Variable) Value() *tensor.Tensor { return v.value }

// bind assigns data to a feeder. The batch dimension may differ from
// the declared shape; all trailing dimensions must match.
func (v *Variable) bind(t *tensor.Tensor) error {
	got := t.Shape()
	if len(got) != len(v.shape) {
		return &ShapeError{Op: "feeder", Want: v.shape.Clone(), Got: got.Clone(), Detail: "rank mismatch"}
	}
	for i := 1; i < len(got); i++ {
		if got[i] != v.shape[i] {
			return &ShapeError{Op: "feeder", Want: v.shape.Clone(), Got: got.Clone(), Detail: "non-batch dimensions must match"}
		}
	}
	v.value = t
	return nil
}

// OutShape returns the declared shape.
func (v *Variable) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindVariable, len(inputs), 0); err != nil {
		return nil, err
	}
	return v.shape.Clone(), nil
}

// Forward returns the held value.
func (v *Variable) Forward(_ []*tensor.Tensor) (*tensor.Tensor, error) {
	if v.value == nil {
		return nil, &StateError{Op: "variable", Detail: "feeder evaluated before data was bound"}
	}
	return v.value, nil
}

// Backward has nothing to distribute: variables have no inputs.
func (v *Variable) Backward(_ []*tensor.Tensor, _, _ *tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, nil
}
