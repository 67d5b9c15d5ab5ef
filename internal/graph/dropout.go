package graph

import (
	"math/rand"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Dropout zeroes activations with probability rate during training and
// scales the survivors by 1/(1-rate), so the expected activation
// magnitude is unchanged. In evaluation mode the op is an identity.
type Dropout struct {
	rate     float64
	training bool
	rng      *rand.Rand

	mask []float64 // per-element keep scale from the last training forward
}

// NewDropout creates a dropout op with the given rate in [0, 1).
//
// The op owns its random source so independent graphs do not share
// hidden state through a global generator.
func NewDropout(rate float64, seed int64) *Dropout {
	//nolint:gosec // weight masking, not security-critical
	return &Dropout{rate: rate, training: true, rng: rand.New(rand.NewSource(seed))}
}

// Kind returns KindDropout.
func (d *Dropout) Kind() Kind { return KindDropout }

// Rate returns the configured dropout rate.
func (d *Dropout) Rate() float64 { return d.rate }

func (d *Dropout) setTraining(training bool) { d.training = training }

// OutShape is the input shape unchanged.
func (d *Dropout) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindDropout, len(inputs), 1); err != nil {
		return nil, err
	}
	return inputs[0].Clone(), nil
}

// Forward samples a fresh mask in training mode.
func (d *Dropout) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	if !d.training {
		return x, nil
	}

	out, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	if len(d.mask) != x.NumElements() {
		d.mask = make([]float64, x.NumElements())
	}

	keep := 1.0 - d.rate
	scale := 1.0 / keep
	xd, od := x.Data(), out.Data()
	for i := range xd {
		if d.rng.Float64() < keep {
			d.mask[i] = scale
		} else {
			d.mask[i] = 0
		}
		od[i] = xd[i] * d.mask[i]
	}
	return out, nil
}

// Backward applies the cached mask to the upstream gradient.
func (d *Dropout) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	if !d.training {
		return []*tensor.Tensor{upstream}, nil
	}
	if len(d.mask) != upstream.NumElements() {
		return nil, &StateError{Op: "dropout", Detail: "backward called without a matching forward"}
	}
	dx, err := tensor.New(inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	ud, dxd := upstream.Data(), dx.Data()
	for i := range ud {
		dxd[i] = ud[i] * d.mask[i]
	}
	return []*tensor.Tensor{dx}, nil
}
