// Copyright 2025 The Gradnet Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn re-exports the layer builders and architecture descriptors
// that compose graph operations into dense and convolutional blocks.
package nn

import (
	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/nn"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Activation names a nonlinearity appended to a layer block.
type Activation = nn.Activation

// The supported activations.
const (
	ActivationReLU    = nn.ActivationReLU
	ActivationSoftmax = nn.ActivationSoftmax
)

// Pooling names a spatial pooling appended to a convolution block.
type Pooling = nn.Pooling

// PoolMax is the only supported pooling.
const PoolMax = nn.PoolMax

// DenseConfig configures one fully-connected block.
type DenseConfig = nn.DenseConfig

// ConvConfig configures one convolution block.
type ConvConfig = nn.ConvConfig

// AddDense appends a fully-connected block to the graph.
func AddDense(g *graph.Graph, input *graph.Node, cfg DenseConfig) (*graph.Node, error) {
	return nn.AddDense(g, input, cfg)
}

// AddConv appends a convolution block to the graph.
func AddConv(g *graph.Graph, input *graph.Node, cfg ConvConfig) (*graph.Node, error) {
	return nn.AddConv(g, input, cfg)
}

// LayerKind tags one entry of an architecture descriptor.
type LayerKind = nn.LayerKind

// The layer kinds.
const (
	LayerInput   = nn.LayerInput
	LayerDropout = nn.LayerDropout
	LayerConv    = nn.LayerConv
	LayerFlatten = nn.LayerFlatten
	LayerDense   = nn.LayerDense
)

// LayerSpec is one entry of an architecture descriptor.
type LayerSpec = nn.LayerSpec

// Build replays an architecture descriptor onto a graph and returns the
// prediction node feeding the cost.
func Build(g *graph.Graph, specs []LayerSpec) (*graph.Node, error) {
	return nn.Build(g, specs)
}

// Generate produces an initial parameter tensor: uniform noise scaled by
// the fan-in when scaled is true, zeros otherwise.
func Generate(shape tensor.Shape, scaled bool, fanIn int) (*tensor.Tensor, error) {
	return nn.Generate(shape, scaled, fanIn)
}
