package graph

import (
	"math"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// batchNormEps keeps the variance denominator away from zero.
const batchNormEps = 1e-5

// batchNormMomentum weights the running statistics used in evaluation.
const batchNormMomentum = 0.9

// BatchNorm normalizes each trailing position over the batch axis and
// applies a learned affine transform.
//
// Inputs: x [batch, ...], beta [1, ...], gamma [1, ...], where beta and
// gamma carry x's trailing dimensions with a leading 1. During training
// the batch statistics are used directly and folded into running
// estimates; evaluation mode normalizes with the running estimates.
type BatchNorm struct {
	training bool

	// scratch from the last training forward, needed by Backward.
	xhat   []float64
	invStd []float64

	runningMean []float64
	runningVar  []float64
	initialized bool
}

// NewBatchNorm creates a batch-normalization op.
func NewBatchNorm() *BatchNorm {
	return &BatchNorm{training: true}
}

// Kind returns KindBatchNorm.
func (b *BatchNorm) Kind() Kind { return KindBatchNorm }

func (b *BatchNorm) setTraining(training bool) { b.training = training }

// OutShape validates the affine parameter shapes against x.
func (b *BatchNorm) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindBatchNorm, len(inputs), 3); err != nil {
		return nil, err
	}
	x := inputs[0]
	if len(x) < 2 {
		return nil, &ShapeError{Op: "batchnorm", Got: x.Clone(), Detail: "input must have a batch axis and at least one feature axis"}
	}
	want := x.Clone()
	want[0] = 1
	for i, name := range []string{"beta", "gamma"} {
		if !inputs[i+1].Equal(want) {
			return nil, &ShapeError{Op: "batchnorm", Want: want, Got: inputs[i+1].Clone(), Detail: name + " shape must be the input shape with batch 1"}
		}
	}
	return x.Clone(), nil
}

// Forward normalizes over the batch axis.
func (b *BatchNorm) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, beta, gamma := inputs[0], inputs[1], inputs[2]
	n := x.Shape()[0]
	features := x.NumElements() / n

	out, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}

	if len(b.runningMean) != features {
		b.runningMean = make([]float64, features)
		b.runningVar = make([]float64, features)
		b.initialized = false
	}
	if len(b.xhat) != n*features {
		b.xhat = make([]float64, n*features)
	}
	if len(b.invStd) != features {
		b.invStd = make([]float64, features)
	}

	xd, od := x.Data(), out.Data()
	betaD, gammaD := beta.Data(), gamma.Data()

	for j := 0; j < features; j++ {
		var mean, variance float64
		if b.training {
			for i := 0; i < n; i++ {
				mean += xd[i*features+j]
			}
			mean /= float64(n)
			for i := 0; i < n; i++ {
				diff := xd[i*features+j] - mean
				variance += diff * diff
			}
			variance /= float64(n)

			if b.initialized {
				b.runningMean[j] = batchNormMomentum*b.runningMean[j] + (1-batchNormMomentum)*mean
				b.runningVar[j] = batchNormMomentum*b.runningVar[j] + (1-batchNormMomentum)*variance
			} else {
				b.runningMean[j] = mean
				b.runningVar[j] = variance
			}
		} else {
			mean = b.runningMean[j]
			variance = b.runningVar[j]
		}

		invStd := 1.0 / math.Sqrt(variance+batchNormEps)
		b.invStd[j] = invStd
		for i := 0; i < n; i++ {
			xhat := (xd[i*features+j] - mean) * invStd
			if b.training {
				b.xhat[i*features+j] = xhat
			}
			od[i*features+j] = gammaD[j]*xhat + betaD[j]
		}
	}
	if b.training {
		b.initialized = true
	}
	return out, nil
}

// Backward computes the standard batch-normalization gradients for x,
// beta and gamma.
func (b *BatchNorm) Backward(inputs []*tensor.Tensor, _, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	x, beta, gamma := inputs[0], inputs[1], inputs[2]
	n := x.Shape()[0]
	features := x.NumElements() / n
	if len(b.xhat) != n*features {
		return nil, &StateError{Op: "batchnorm", Detail: "backward called without a matching forward"}
	}

	dx, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	dbeta, err := tensor.New(beta.Shape())
	if err != nil {
		return nil, err
	}
	dgamma, err := tensor.New(gamma.Shape())
	if err != nil {
		return nil, err
	}

	ud := upstream.Data()
	dxd, dbetaD, dgammaD := dx.Data(), dbeta.Data(), dgamma.Data()
	gammaD := gamma.Data()

	for j := 0; j < features; j++ {
		var sumDy, sumDyXhat float64
		for i := 0; i < n; i++ {
			dy := ud[i*features+j]
			sumDy += dy
			sumDyXhat += dy * b.xhat[i*features+j]
		}
		dbetaD[j] = sumDy
		dgammaD[j] = sumDyXhat

		factor := gammaD[j] * b.invStd[j] / float64(n)
		for i := 0; i < n; i++ {
			dy := ud[i*features+j]
			dxd[i*features+j] = factor * (float64(n)*dy - sumDy - b.xhat[i*features+j]*sumDyXhat)
		}
	}
	return []*tensor.Tensor{dx, dbeta, dgamma}, nil
}
