package graph

import (
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Add computes a + b where b broadcasts against a.
//
// Broadcasting is right-aligned: b's dimensions are matched against the
// trailing dimensions of a, and every aligned dimension must either be
// equal or be 1 in b. This covers both bias shapes the layer builders
// produce: (out,) against (batch, out) and (1, C, 1, 1) against
// (batch, C, H, W).
type Add struct{}

// NewAdd creates an elementwise-add op.
func NewAdd() *Add { return &Add{} }

// Kind returns KindAdd.
func (a *Add) Kind() Kind { return KindAdd }

// broadcastStrides returns, for each dimension of out, the stride into
// b's flat data (0 where b broadcasts). Returns false if the shapes are
// not broadcast-compatible.
func broadcastStrides(out, b tensor.Shape) ([]int, bool) {
	if len(b) > len(out) {
		return nil, false
	}
	strides := make([]int, len(out))
	offset := len(out) - len(b)

	// Row-major strides of b.
	bStrides := make([]int, len(b))
	s := 1
	for i := len(b) - 1; i >= 0; i-- {
		bStrides[i] = s
		s *= b[i]
	}

	for i := range out {
		if i < offset {
			strides[i] = 0
			continue
		}
		switch b[i-offset] {
		case out[i]:
			strides[i] = bStrides[i-offset]
		case 1:
			strides[i] = 0
		default:
			return nil, false
		}
	}
	return strides, true
}

// OutShape validates broadcast compatibility; the output shape is a's.
func (a *Add) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindAdd, len(inputs), 2); err != nil {
		return nil, err
	}
	if _, ok := broadcastStrides(inputs[0], inputs[1]); !ok {
		return nil, &ShapeError{Op: "add", Want: inputs[0].Clone(), Got: inputs[1].Clone(), Detail: "operand does not broadcast"}
	}
	return inputs[0].Clone(), nil
}

// forEachBroadcast walks every element of out and invokes fn with the
// flat indices into out and into the broadcast operand.
func forEachBroadcast(out tensor.Shape, strides []int, fn func(outIdx, bIdx int)) {
	idx := make([]int, len(out))
	total := out.NumElements()
	bIdx := 0
	for i := 0; i < total; i++ {
		fn(i, bIdx)
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			bIdx += strides[d]
			if idx[d] < out[d] {
				break
			}
			bIdx -= strides[d] * out[d]
			idx[d] = 0
		}
	}
}

// Forward computes the broadcast sum.
func (a *Add) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, b := inputs[0], inputs[1]
	strides, ok := broadcastStrides(x.Shape(), b.Shape())
	if !ok {
		return nil, &ShapeError{Op: "add", Want: x.Shape().Clone(), Got: b.Shape().Clone(), Detail: "operand does not broadcast"}
	}
	out, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	xd, bd, od := x.Data(), b.Data(), out.Data()
	forEachBroadcast(x.Shape(), strides, func(outIdx, bIdx int) {
		od[outIdx] = xd[outIdx] + bd[bIdx]
	})
	return out, nil
}

// Backward passes the upstream gradient through unchanged for the left
// operand and sums it over the broadcast axes for the right one.
func (a *Add) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	x, b := inputs[0], inputs[1]
	strides, _ := broadcastStrides(x.Shape(), b.Shape())

	db, err := tensor.New(b.Shape())
	if err != nil {
		return nil, err
	}
	ud, dbd := upstream.Data(), db.Data()
	forEachBroadcast(x.Shape(), strides, func(outIdx, bIdx int) {
		dbd[bIdx] += ud[outIdx]
	})
	return []*tensor.Tensor{upstream, db}, nil
}
