package nn

import (
	"math/rand"

	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Activation selects a layer's activation op by tag.
type Activation string

// The supported activations.
const (
	ActivationReLU    Activation = "relu"
	ActivationSoftmax Activation = "softmax"
)

// newOp instantiates the tagged activation.
func (a Activation) newOp() (graph.Op, error) {
	switch a {
	case ActivationReLU:
		return graph.NewReLU(), nil
	case ActivationSoftmax:
		return graph.NewSoftmax(), nil
	default:
		return nil, &graph.ConfigurationError{Op: "layer", Field: "activation", Detail: string(a)}
	}
}

// Pooling selects a convolution layer's pooling op by tag.
type Pooling string

// The supported pooling operations.
const (
	PoolMax Pooling = "max"
)

// DenseConfig configures one fully connected layer.
type DenseConfig struct {
	OutputWidth int        `json:"output_width"`
	Activation  Activation `json:"activation"`
	DropoutRate float64    `json:"dropout_rate,omitempty"`
	BatchNorm   bool       `json:"batch_norm,omitempty"`
}

// validate fails fast on bad hyperparameters, before any node exists.
func (c DenseConfig) validate() error {
	if c.OutputWidth <= 0 {
		return &graph.ConfigurationError{Op: "dense", Field: "outputWidth", Detail: "must be positive"}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return &graph.ConfigurationError{Op: "dense", Field: "dropoutRate", Detail: "must be in [0, 1)"}
	}
	if _, err := c.Activation.newOp(); err != nil {
		return err
	}
	return nil
}

// AddDense appends a dense layer to the graph:
//
//	linear(input, W) -> add(b) -> [dropout] -> [batchnorm] -> activation
//
// W is (outputWidth, inFeatures) with fan-in-scaled initialization, b
// is (outputWidth,) zero-filled; both are registered as trainable. The
// activation node is returned; its shape is (batch, outputWidth).
//
// A zero dropout rate registers no dropout node at all rather than an
// inert one.
func AddDense(g *graph.Graph, input *graph.Node, cfg DenseConfig) (*graph.Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	inShape := input.Shape()
	if len(inShape) != 2 {
		return nil, &graph.ShapeError{Op: "dense", Got: inShape.Clone(), Detail: "input must be 2D [batch, features]"}
	}
	inFeatures := inShape[1]

	w, err := Generate(tensor.Shape{cfg.OutputWidth, inFeatures}, true, inFeatures)
	if err != nil {
		return nil, err
	}
	b, err := Generate(tensor.Shape{cfg.OutputWidth}, false, 0)
	if err != nil {
		return nil, err
	}

	wNode, err := g.AddVariable(w, true)
	if err != nil {
		return nil, err
	}
	bNode, err := g.AddVariable(b, true)
	if err != nil {
		return nil, err
	}

	cur, err := g.AddOperation(graph.NewLinear(), input, wNode)
	if err != nil {
		return nil, err
	}
	cur, err = g.AddOperation(graph.NewAdd(), cur, bNode)
	if err != nil {
		return nil, err
	}

	if cfg.DropoutRate > 0 {
		cur, err = g.AddOperation(graph.NewDropout(cfg.DropoutRate, rand.Int63()), cur)
		if err != nil {
			return nil, err
		}
	}
	if cfg.BatchNorm {
		cur, err = addBatchNorm(g, cur)
		if err != nil {
			return nil, err
		}
	}

	act, err := cfg.Activation.newOp()
	if err != nil {
		return nil, err
	}
	return g.AddOperation(act, cur)
}

// ConvConfig configures one convolution+pooling layer.
type ConvConfig struct {
	Filters    int           `json:"filters"`
	FilterH    int           `json:"filter_h"`
	FilterW    int           `json:"filter_w"`
	Padding    graph.Padding `json:"padding"`
	Stride     int           `json:"stride"`
	Activation Activation    `json:"activation"`
	BatchNorm  bool          `json:"batch_norm,omitempty"`
	Pool       Pooling       `json:"pool"`
	PoolH      int           `json:"pool_h"`
	PoolW      int           `json:"pool_w"`
	PoolStride int           `json:"pool_stride"`
}

func (c ConvConfig) validate() error {
	if c.Filters <= 0 {
		return &graph.ConfigurationError{Op: "conv", Field: "filters", Detail: "must be positive"}
	}
	if c.FilterH <= 0 || c.FilterW <= 0 {
		return &graph.ConfigurationError{Op: "conv", Field: "filter size", Detail: "must be positive"}
	}
	if c.Stride <= 0 {
		return &graph.ConfigurationError{Op: "conv", Field: "stride", Detail: "must be positive"}
	}
	if !c.Padding.Valid() {
		return &graph.ConfigurationError{Op: "conv", Field: "padding", Detail: string(c.Padding)}
	}
	if c.Pool != PoolMax {
		return &graph.ConfigurationError{Op: "conv", Field: "pool", Detail: string(c.Pool)}
	}
	if c.PoolH <= 0 || c.PoolW <= 0 || c.PoolStride <= 0 {
		return &graph.ConfigurationError{Op: "conv", Field: "pool size", Detail: "must be positive"}
	}
	if _, err := c.Activation.newOp(); err != nil {
		return err
	}
	return nil
}

// AddConv appends a convolution layer with pooling:
//
//	conv(input, W, stride, padding) -> add(b) -> [batchnorm] -> activation -> pool
//
// The filter is (filters, channels, filterH, filterW) scaled by fan-in
// filterH*filterW*channels; the bias is (1, filters, 1, 1) zero-filled.
// The pooling node is returned.
func AddConv(g *graph.Graph, input *graph.Node, cfg ConvConfig) (*graph.Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	inShape := input.Shape()
	if len(inShape) != 4 {
		return nil, &graph.ShapeError{Op: "conv", Got: inShape.Clone(), Detail: "input must be 4D [batch, channels, H, W]"}
	}
	channels := inShape[1]
	filterShape := tensor.Shape{cfg.Filters, channels, cfg.FilterH, cfg.FilterW}

	// Resolve the convolution geometry before registering anything, so
	// an oversized filter fails with no nodes added.
	convOp := graph.NewConv2D(cfg.Stride, cfg.Padding)
	if _, err := convOp.OutShape([]tensor.Shape{inShape, filterShape}); err != nil {
		return nil, err
	}

	w, err := Generate(filterShape, true, cfg.FilterH*cfg.FilterW*channels)
	if err != nil {
		return nil, err
	}
	b, err := Generate(tensor.Shape{1, cfg.Filters, 1, 1}, false, 0)
	if err != nil {
		return nil, err
	}

	wNode, err := g.AddVariable(w, true)
	if err != nil {
		return nil, err
	}
	cur, err := g.AddOperation(convOp, input, wNode)
	if err != nil {
		return nil, err
	}
	bNode, err := g.AddVariable(b, true)
	if err != nil {
		return nil, err
	}
	cur, err = g.AddOperation(graph.NewAdd(), cur, bNode)
	if err != nil {
		return nil, err
	}

	if cfg.BatchNorm {
		cur, err = addBatchNorm(g, cur)
		if err != nil {
			return nil, err
		}
	}

	act, err := cfg.Activation.newOp()
	if err != nil {
		return nil, err
	}
	cur, err = g.AddOperation(act, cur)
	if err != nil {
		return nil, err
	}

	return g.AddOperation(graph.NewMaxPool2D(cfg.PoolH, cfg.PoolW, cfg.PoolStride), cur)
}

// addBatchNorm registers beta/gamma variables shaped like the input
// with batch 1, then the normalization node consuming all three.
//
// Unlike the weights, the affine parameters start at the identity
// transform: gamma one, beta zero.
func addBatchNorm(g *graph.Graph, input *graph.Node) (*graph.Node, error) {
	paramShape := input.Shape().Clone()
	paramShape[0] = 1

	beta, err := tensor.Zeros(paramShape)
	if err != nil {
		return nil, err
	}
	gamma, err := tensor.Full(paramShape, 1)
	if err != nil {
		return nil, err
	}

	betaNode, err := g.AddVariable(beta, true)
	if err != nil {
		return nil, err
	}
	gammaNode, err := g.AddVariable(gamma, true)
	if err != nil {
		return nil, err
	}
	return g.AddOperation(graph.NewBatchNorm(), input, betaNode, gammaNode)
}
