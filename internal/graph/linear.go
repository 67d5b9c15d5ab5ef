package graph

import (
	"gonum.org/v1/gonum/mat"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Linear computes x·Wᵀ, the linear transform of a dense layer.
//
// Inputs: x [batch, inFeatures], W [outFeatures, inFeatures].
// Output: [batch, outFeatures].
type Linear struct{}

// NewLinear creates a linear-transform op.
func NewLinear() *Linear { return &Linear{} }

// Kind returns KindLinear.
func (l *Linear) Kind() Kind { return KindLinear }

// OutShape validates the input/weight pairing.
func (l *Linear) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindLinear, len(inputs), 2); err != nil {
		return nil, err
	}
	x, w := inputs[0], inputs[1]
	if len(x) != 2 {
		return nil, &ShapeError{Op: "linear", Got: x.Clone(), Detail: "input must be 2D [batch, features]"}
	}
	if len(w) != 2 {
		return nil, &ShapeError{Op: "linear", Got: w.Clone(), Detail: "weight must be 2D [out, in]"}
	}
	if x[1] != w[1] {
		return nil, &ShapeError{Op: "linear", Want: tensor.Shape{x[0], w[1]}, Got: x.Clone(), Detail: "input features do not match weight columns"}
	}
	return tensor.Shape{x[0], w[0]}, nil
}

// Forward computes y = x·Wᵀ.
func (l *Linear) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, w := inputs[0], inputs[1]
	n, d := x.Shape()[0], x.Shape()[1]
	m := w.Shape()[0]

	out, err := tensor.New(tensor.Shape{n, m})
	if err != nil {
		return nil, err
	}

	xm := mat.NewDense(n, d, x.Data())
	wm := mat.NewDense(m, d, w.Data())
	ym := mat.NewDense(n, m, out.Data())
	ym.Mul(xm, wm.T())
	return out, nil
}

// Backward computes dx = dy·W and dW = dyᵀ·x.
func (l *Linear) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	x, w := inputs[0], inputs[1]
	n, d := x.Shape()[0], x.Shape()[1]
	m := w.Shape()[0]

	dx, err := tensor.New(tensor.Shape{n, d})
	if err != nil {
		return nil, err
	}
	dw, err := tensor.New(tensor.Shape{m, d})
	if err != nil {
		return nil, err
	}

	dym := mat.NewDense(n, m, upstream.Data())
	wm := mat.NewDense(m, d, w.Data())
	xm := mat.NewDense(n, d, x.Data())

	dxm := mat.NewDense(n, d, dx.Data())
	dxm.Mul(dym, wm)

	dwm := mat.NewDense(m, d, dw.Data())
	dwm.Mul(dym.T(), xm)

	return []*tensor.Tensor{dx, dw}, nil
}
