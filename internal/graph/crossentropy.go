package graph

import (
	"math"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// crossEntropyEps clamps probabilities away from zero inside the log.
const crossEntropyEps = 1e-12

// CrossEntropy is the scalar cost node: mean cross-entropy between the
// predicted class distribution and one-hot labels.
//
// The input is expected to be a probability distribution per row (the
// output of a Softmax node); composed with Softmax's exact Jacobian the
// end-to-end gradient reduces to (p - y) / batch.
type CrossEntropy struct {
	labels *tensor.Tensor
}

// NewCrossEntropy creates an unbound cost op; labels are assigned per
// mini-batch through Graph.BindLabels.
func NewCrossEntropy() *CrossEntropy { return &CrossEntropy{} }

// Kind returns KindCrossEntropy.
func (c *CrossEntropy) Kind() Kind { return KindCrossEntropy }

// setLabels binds the one-hot label tensor for the next cycle.
func (c *CrossEntropy) setLabels(labels *tensor.Tensor) error {
	if len(labels.Shape()) != 2 {
		return &ShapeError{Op: "crossentropy", Got: labels.Shape().Clone(), Detail: "labels must be 2D one-hot [batch, classes]"}
	}
	c.labels = labels
	return nil
}

// OutShape reduces to a scalar.
func (c *CrossEntropy) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindCrossEntropy, len(inputs), 1); err != nil {
		return nil, err
	}
	if len(inputs[0]) != 2 {
		return nil, &ShapeError{Op: "crossentropy", Got: inputs[0].Clone(), Detail: "input must be 2D [batch, classes]"}
	}
	return tensor.Shape{1}, nil
}

// Forward computes -mean over the batch of sum_j y_j * log(p_j).
func (c *CrossEntropy) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	p := inputs[0]
	if c.labels == nil {
		return nil, &StateError{Op: "crossentropy", Detail: "cost evaluated before labels were bound"}
	}
	if !c.labels.Shape().Equal(p.Shape()) {
		return nil, &ShapeError{Op: "crossentropy", Want: p.Shape().Clone(), Got: c.labels.Shape().Clone(), Detail: "labels do not match predictions"}
	}

	n := p.Shape()[0]
	pd, yd := p.Data(), c.labels.Data()
	var total float64
	for i := range pd {
		if yd[i] != 0 {
			total -= yd[i] * math.Log(math.Max(pd[i], crossEntropyEps))
		}
	}

	out, err := tensor.New(tensor.Shape{1})
	if err != nil {
		return nil, err
	}
	out.Data()[0] = total / float64(n)
	return out, nil
}

// Backward computes dp = -y / p / batch, scaled by the upstream seed.
func (c *CrossEntropy) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	p := inputs[0]
	if c.labels == nil {
		return nil, &StateError{Op: "crossentropy", Detail: "backward before labels were bound"}
	}
	n := p.Shape()[0]
	seed := upstream.Data()[0]

	dp, err := tensor.New(p.Shape())
	if err != nil {
		return nil, err
	}
	pd, yd, dpd := p.Data(), c.labels.Data(), dp.Data()
	for i := range pd {
		if yd[i] != 0 {
			dpd[i] = -seed * yd[i] / math.Max(pd[i], crossEntropyEps) / float64(n)
		}
	}
	return []*tensor.Tensor{dp}, nil
}
