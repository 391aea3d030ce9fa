// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides the custom operator contract and the gradient
// tape that drives it.
//
// The detection loss is registered as an operator under
// RegressionOutputName. Its forward pass is the identity; its backward pass
// writes the loss gradient for the prediction and ignores any upstream
// gradient.
//
// Example:
//
//	import (
//	    "github.com/born-ml/squeezedet/autodiff"
//	    "github.com/born-ml/squeezedet/detection"
//	)
//
//	func main() {
//	    prop, _ := autodiff.NewRegressionOutputProp(detection.DefaultConfig())
//
//	    tape := autodiff.NewGradientTape()
//	    tape.StartRecording()
//	    autodiff.Invoke(tape, prop, true, pred, label)
//
//	    grads, _ := tape.Backward(nil)
//	    predGrad := grads[pred]
//	}
package autodiff

import (
	"github.com/born-ml/squeezedet/internal/autodiff"
	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/loss"
	"github.com/born-ml/squeezedet/internal/tensor"
)

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// Node is a recorded operation on a GradientTape.
type Node = autodiff.Node

// CustomOp is an executable operator.
type CustomOp = autodiff.CustomOp

// OpProp describes an operator: argument names, shape inference and
// whether it needs an upstream gradient.
type OpProp = autodiff.OpProp

// OpReq tells an operator how to store a result.
type OpReq = autodiff.OpReq

// Request modes.
const (
	ReqNull    = autodiff.ReqNull
	ReqWrite   = autodiff.ReqWrite
	ReqInplace = autodiff.ReqInplace
	ReqAdd     = autodiff.ReqAdd
)

// Invoke runs an operator forward and records it on tape.
func Invoke(tape *GradientTape, prop OpProp, isTrain bool, inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return autodiff.Invoke(tape, prop, isTrain, inputs...)
}

// Registered names of the detection loss operator.
const (
	RegressionOutputName  = autodiff.RegressionOutputName
	RegressionOutputAlias = autodiff.RegressionOutputAlias
)

// RegressionOutputProp describes the detection loss operator.
type RegressionOutputProp = autodiff.RegressionOutputProp

// NewRegressionOutputProp creates the detection loss operator for cfg.
func NewRegressionOutputProp(cfg config.Config, opts ...loss.Option) (*RegressionOutputProp, error) {
	return autodiff.NewRegressionOutputProp(cfg, opts...)
}

// Registry maps operator names to factories.
type Registry = autodiff.Registry

// NewRegistry creates a registry holding the detection loss operator.
func NewRegistry() (*Registry, error) {
	r := autodiff.NewRegistry()
	if err := autodiff.RegisterDefaults(r); err != nil {
		return nil, err
	}
	return r, nil
}
