package nn

import (
	"math"
	"math/rand"

	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Generate produces an initial parameter tensor of the given shape.
//
// With scaled true, values are drawn uniformly from
// [-1/sqrt(fanIn), 1/sqrt(fanIn)]. The fan-in scaling is load-bearing:
// without it activation and gradient magnitudes blow up as depth
// increases and deep stacks diverge. Only the fan-in enters the scale,
// not the number of outputs.
//
// With scaled false (bias-style parameters), the tensor is zero-filled
// and fanIn is ignored.
//
// A non-positive requested dimension fails with a ShapeError.
func Generate(shape tensor.Shape, scaled bool, fanIn int) (*tensor.Tensor, error) {
	if !scaled {
		return tensor.Zeros(shape)
	}
	if fanIn <= 0 {
		return nil, &graph.ConfigurationError{Op: "generate", Field: "fanIn", Detail: "must be positive for scaled initialization"}
	}

	t, err := tensor.New(shape)
	if err != nil {
		return nil, err
	}
	scale := 1.0 / math.Sqrt(float64(fanIn))
	data := t.Data()
	for i := range data {
		//nolint:gosec // weight initialization, not security-critical
		data[i] = (rand.Float64()*2 - 1) * scale
	}
	return t, nil
}
