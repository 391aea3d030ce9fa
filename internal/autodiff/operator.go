// Package autodiff defines the custom-operator contract through which a
// training framework drives the detection loss, and a gradient tape that
// drives such operators end to end.
//
// The contract mirrors the usual custom-operator split:
//   - OpProp describes an operator: argument and output names, shape
//     inference, whether it consumes an upstream gradient, and a factory
//   - CustomOp executes it: Forward fills outputs, Backward fills input
//     gradients, both honoring a per-tensor OpReq
//
// Usage:
//
//	reg := autodiff.NewRegistry()
//	autodiff.RegisterDefaults(reg)
//	prop, _ := reg.Create(autodiff.RegressionOutputName, nil)
//
//	tape := autodiff.NewGradientTape()
//	tape.StartRecording()
//	out, _ := autodiff.Invoke(tape, prop, true, pred, label)
//	grads, _ := tape.Backward(nil)
//	predGrad := grads[pred]
package autodiff

import (
	"github.com/born-ml/squeezedet/internal/tensor"
)

// CustomOp is an operator instance created by an OpProp for fixed input
// shapes and dtypes.
type CustomOp interface {
	// Forward computes outData from inData. req[i] tells how outData[i]
	// must be written.
	Forward(isTrain bool, req []OpReq, inData, outData []*tensor.RawTensor) error

	// Backward computes inGrad from the forward tensors and, for operators
	// that need it, outGrad. req[i] tells how inGrad[i] must be written.
	Backward(req []OpReq, outGrad, inData, outData, inGrad []*tensor.RawTensor) error
}

// OpProp describes a custom operator to the framework.
type OpProp interface {
	// ListArguments returns the input names, in call order.
	ListArguments() []string

	// ListOutputs returns the output names, in order.
	ListOutputs() []string

	// InferShape maps input shapes to (argument, output, auxiliary) shapes.
	InferShape(in []tensor.Shape) (args, outs, aux []tensor.Shape, err error)

	// NeedTopGrad reports whether Backward reads outGrad. Operators that
	// terminate the graph (losses) return false.
	NeedTopGrad() bool

	// CreateOperator builds an operator for the given input shapes and dtypes.
	CreateOperator(shapes []tensor.Shape, dtypes []tensor.DataType) (CustomOp, error)
}

// NoGradArguments is implemented by props whose operator never produces a
// gradient for some arguments (e.g. labels). The tape requests ReqNull for
// them.
type NoGradArguments interface {
	NoGradArguments() []string
}
