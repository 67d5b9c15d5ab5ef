package graph

import (
	"fmt"
	"math"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// MaxPool2D reduces spatial dimensions by taking the maximum of each
// pooling window. It has no learnable parameters.
//
// Input:  [batch, channels, H, W]
// Output: [batch, channels, (H-poolH)/stride+1, (W-poolW)/stride+1]
type MaxPool2D struct {
	poolH  int
	poolW  int
	stride int

	argmax []int // flat input index of each window maximum
}

// NewMaxPool2D creates a pooling op with the given window and stride.
func NewMaxPool2D(poolH, poolW, stride int) *MaxPool2D {
	return &MaxPool2D{poolH: poolH, poolW: poolW, stride: stride}
}

// Kind returns KindMaxPool2D.
func (m *MaxPool2D) Kind() Kind { return KindMaxPool2D }

// OutShape computes the stride-reduced spatial dimensions.
func (m *MaxPool2D) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindMaxPool2D, len(inputs), 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if len(x) != 4 {
		return nil, &ShapeError{Op: "maxpool2d", Got: x.Clone(), Detail: "input must be 4D [batch, channels, H, W]"}
	}
	outH := (x[2]-m.poolH)/m.stride + 1
	outW := (x[3]-m.poolW)/m.stride + 1
	if x[2] < m.poolH || x[3] < m.poolW || outH <= 0 || outW <= 0 {
		return nil, &ShapeError{
			Op:     "maxpool2d",
			Got:    x.Clone(),
			Detail: fmt.Sprintf("%dx%d window with stride %d does not fit", m.poolH, m.poolW, m.stride),
		}
	}
	return tensor.Shape{x[0], x[1], outH, outW}, nil
}

// Forward takes window maxima, recording the argmax for Backward.
func (m *MaxPool2D) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	xs := x.Shape()
	n, ch, h, w := xs[0], xs[1], xs[2], xs[3]
	outH := (h-m.poolH)/m.stride + 1
	outW := (w-m.poolW)/m.stride + 1

	out, err := tensor.New(tensor.Shape{n, ch, outH, outW})
	if err != nil {
		return nil, err
	}
	if len(m.argmax) != out.NumElements() {
		m.argmax = make([]int, out.NumElements())
	}

	xd, od := x.Data(), out.Data()
	for b := 0; b < n; b++ {
		for cc := 0; cc < ch; cc++ {
			plane := (b*ch + cc) * h * w
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := math.Inf(-1)
					bestIdx := -1
					for i := 0; i < m.poolH; i++ {
						for j := 0; j < m.poolW; j++ {
							idx := plane + (oh*m.stride+i)*w + ow*m.stride + j
							if xd[idx] > best {
								best = xd[idx]
								bestIdx = idx
							}
						}
					}
					outIdx := ((b*ch+cc)*outH+oh)*outW + ow
					od[outIdx] = best
					m.argmax[outIdx] = bestIdx
				}
			}
		}
	}
	return out, nil
}

// Backward routes each upstream gradient to the input position that
// produced the window maximum.
func (m *MaxPool2D) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(m.argmax) != upstream.NumElements() {
		return nil, &StateError{Op: "maxpool2d", Detail: "backward called without a matching forward"}
	}
	dx, err := tensor.New(inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	dxd, ud := dx.Data(), upstream.Data()
	for i, src := range m.argmax {
		dxd[src] += ud[i]
	}
	return []*tensor.Tensor{dx}, nil
}
