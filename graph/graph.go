// Copyright 2025 The Gradnet Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph re-exports the computation graph: the container, its
// nodes, and the closed set of tagged operation variants.
//
// Example:
//
//	g := graph.New()
//	in, _ := g.AddFeeder(tensor.Shape{32, 784})
//	out, _ := nn.AddDense(g, in, nn.DenseConfig{OutputWidth: 10, Activation: nn.ActivationSoftmax})
//	g.AddCost(graph.NewCrossEntropy(), out)
package graph

import (
	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Graph owns all operation nodes of one network.
type Graph = graph.Graph

// New creates an empty graph in training mode.
func New() *Graph {
	return graph.New()
}

// Node is one registered operation in a graph.
type Node = graph.Node

// Op is the polymorphic interface every operation variant implements.
type Op = graph.Op

// Kind tags an operation variant.
type Kind = graph.Kind

// The operation kinds.
const (
	KindVariable     = graph.KindVariable
	KindLinear       = graph.KindLinear
	KindAdd          = graph.KindAdd
	KindDropout      = graph.KindDropout
	KindBatchNorm    = graph.KindBatchNorm
	KindConv2D       = graph.KindConv2D
	KindMaxPool2D    = graph.KindMaxPool2D
	KindReLU         = graph.KindReLU
	KindSoftmax      = graph.KindSoftmax
	KindFlatten      = graph.KindFlatten
	KindCrossEntropy = graph.KindCrossEntropy
)

// Padding selects how a convolution treats the input border.
type Padding = graph.Padding

// The supported padding modes.
const (
	PaddingSame  = graph.PaddingSame
	PaddingValid = graph.PaddingValid
)

// Error taxonomy.
type (
	// ConfigurationError reports an invalid hyperparameter.
	ConfigurationError = graph.ConfigurationError
	// ShapeError reports incompatible or non-positive shapes.
	ShapeError = graph.ShapeError
	// StateError reports an operation invoked before a required binding.
	StateError = graph.StateError
)

// Operation constructors.

// NewVariable creates a value-holding op.
func NewVariable(value *tensor.Tensor) *graph.Variable { return graph.NewVariable(value) }

// NewLinear creates a linear-transform op computing x·Wᵀ.
func NewLinear() *graph.Linear { return graph.NewLinear() }

// NewAdd creates a broadcasting elementwise-add op.
func NewAdd() *graph.Add { return graph.NewAdd() }

// NewDropout creates an inverted-dropout op with its own random source.
func NewDropout(rate float64, seed int64) *graph.Dropout { return graph.NewDropout(rate, seed) }

// NewBatchNorm creates a batch-normalization op.
func NewBatchNorm() *graph.BatchNorm { return graph.NewBatchNorm() }

// NewConv2D creates an im2col convolution op.
func NewConv2D(stride int, padding Padding) *graph.Conv2D { return graph.NewConv2D(stride, padding) }

// NewMaxPool2D creates a max-pooling op.
func NewMaxPool2D(poolH, poolW, stride int) *graph.MaxPool2D {
	return graph.NewMaxPool2D(poolH, poolW, stride)
}

// NewReLU creates a rectified-linear activation op.
func NewReLU() *graph.ReLU { return graph.NewReLU() }

// NewSoftmax creates a softmax activation op.
func NewSoftmax() *graph.Softmax { return graph.NewSoftmax() }

// NewFlatten creates a flatten op.
func NewFlatten() *graph.Flatten { return graph.NewFlatten() }

// NewCrossEntropy creates the cross-entropy cost op.
func NewCrossEntropy() *graph.CrossEntropy { return graph.NewCrossEntropy() }
