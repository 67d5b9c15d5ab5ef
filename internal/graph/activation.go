package graph

import (
	"math"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// ReLU applies max(0, x) elementwise.
type ReLU struct{}

// NewReLU creates a rectified-linear activation op.
func NewReLU() *ReLU { return &ReLU{} }

// Kind returns KindReLU.
func (r *ReLU) Kind() Kind { return KindReLU }

// OutShape is the input shape unchanged.
func (r *ReLU) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindReLU, len(inputs), 1); err != nil {
		return nil, err
	}
	return inputs[0].Clone(), nil
}

// Forward zeroes the negative elements.
func (r *ReLU) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	out, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	xd, od := x.Data(), out.Data()
	for i := range xd {
		if xd[i] > 0 {
			od[i] = xd[i]
		}
	}
	return out, nil
}

// Backward gates the upstream gradient by the sign of the input.
func (r *ReLU) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	x := inputs[0]
	dx, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	xd, ud, dxd := x.Data(), upstream.Data(), dx.Data()
	for i := range xd {
		if xd[i] > 0 {
			dxd[i] = ud[i]
		}
	}
	return []*tensor.Tensor{dx}, nil
}

// Softmax normalizes each row of a [batch, classes] tensor into a
// probability distribution, with the max-subtraction trick for
// numerical stability.
type Softmax struct{}

// NewSoftmax creates a softmax activation op.
func NewSoftmax() *Softmax { return &Softmax{} }

// Kind returns KindSoftmax.
func (s *Softmax) Kind() Kind { return KindSoftmax }

// OutShape requires a 2D input and preserves it.
func (s *Softmax) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindSoftmax, len(inputs), 1); err != nil {
		return nil, err
	}
	if len(inputs[0]) != 2 {
		return nil, &ShapeError{Op: "softmax", Got: inputs[0].Clone(), Detail: "input must be 2D [batch, classes]"}
	}
	return inputs[0].Clone(), nil
}

// Forward computes row-wise softmax.
func (s *Softmax) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	n, k := x.Shape()[0], x.Shape()[1]
	out, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	xd, od := x.Data(), out.Data()
	for i := 0; i < n; i++ {
		row := xd[i*k : (i+1)*k]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(v - maxV)
			od[i*k+j] = e
			sum += e
		}
		for j := 0; j < k; j++ {
			od[i*k+j] /= sum
		}
	}
	return out, nil
}

// Backward applies the exact softmax Jacobian-vector product per row:
// dx_j = p_j * (dy_j - sum_i dy_i * p_i).
func (s *Softmax) Backward(inputs []*tensor.Tensor, output, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	n, k := output.Shape()[0], output.Shape()[1]
	dx, err := tensor.New(inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	pd, ud, dxd := output.Data(), upstream.Data(), dx.Data()
	for i := 0; i < n; i++ {
		var dot float64
		for j := 0; j < k; j++ {
			dot += ud[i*k+j] * pd[i*k+j]
		}
		for j := 0; j < k; j++ {
			dxd[i*k+j] = pd[i*k+j] * (ud[i*k+j] - dot)
		}
	}
	return []*tensor.Tensor{dx}, nil
}
