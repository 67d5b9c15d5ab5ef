// Copyright 2025 The Gradnet Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim re-exports the Adam optimizer and its configuration.
package optim

import (
	"github.com/gradnet-ml/gradnet/internal/optim"
)

// CostGradientFunc maps a flat parameter vector and one mini-batch to a
// scalar cost and the gradient with respect to the parameters.
type CostGradientFunc = optim.CostGradientFunc

// AdamConfig configures an Adam run.
type AdamConfig = optim.AdamConfig

// Adam is the Adam optimizer with bias-corrected moment estimates.
type Adam = optim.Adam

// NewAdam validates the configuration, fills defaults, and returns a
// fresh optimizer.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	return optim.NewAdam(cfg)
}
