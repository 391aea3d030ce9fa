package autodiff

import (
	"fmt"
	"slices"

	"github.com/born-ml/squeezedet/internal/tensor"
)

// Invoke runs an operator's forward pass on inputs and, if the tape is
// recording, records it for the backward pass. It returns the operator's
// outputs.
func Invoke(tape *GradientTape, prop OpProp, isTrain bool, inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	args := prop.ListArguments()
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("invoke: operator takes %d arguments %v, got %d", len(args), args, len(inputs))
	}

	shapes := make([]tensor.Shape, len(inputs))
	dtypes := make([]tensor.DataType, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("invoke: argument %q is nil", args[i])
		}
		shapes[i] = in.Shape()
		dtypes[i] = in.DType()
	}

	_, outShapes, _, err := prop.InferShape(shapes)
	if err != nil {
		return nil, err
	}
	op, err := prop.CreateOperator(shapes, dtypes)
	if err != nil {
		return nil, err
	}

	outputs := make([]*tensor.RawTensor, len(outShapes))
	outReq := make([]OpReq, len(outShapes))
	for i, s := range outShapes {
		outputs[i], err = tensor.NewRaw(s, dtypes[0])
		if err != nil {
			return nil, fmt.Errorf("invoke: output %d: %w", i, err)
		}
		outReq[i] = ReqWrite
	}

	if err := op.Forward(isTrain, outReq, inputs, outputs); err != nil {
		return nil, err
	}

	if tape != nil {
		tape.Record(&opNode{
			prop:    prop,
			op:      op,
			inputs:  inputs,
			outputs: outputs,
			req:     gradRequests(prop),
		})
	}
	return outputs, nil
}

// gradRequests returns ReqWrite for every argument except those the prop
// declares gradient-free.
func gradRequests(prop OpProp) []OpReq {
	args := prop.ListArguments()
	req := make([]OpReq, len(args))
	var skip []string
	if ng, ok := prop.(NoGradArguments); ok {
		skip = ng.NoGradArguments()
	}
	for i, name := range args {
		if slices.Contains(skip, name) {
			req[i] = ReqNull
		} else {
			req[i] = ReqWrite
		}
	}
	return req
}

// opNode adapts a CustomOp invocation to the tape's Node interface.
type opNode struct {
	prop    OpProp
	op      CustomOp
	inputs  []*tensor.RawTensor
	outputs []*tensor.RawTensor
	req     []OpReq
}

func (n *opNode) Inputs() []*tensor.RawTensor  { return n.inputs }
func (n *opNode) Outputs() []*tensor.RawTensor { return n.outputs }
func (n *opNode) NeedTopGrad() bool            { return n.prop.NeedTopGrad() }

func (n *opNode) Backward(outputGrads []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	inGrad := make([]*tensor.RawTensor, len(n.inputs))
	for i, in := range n.inputs {
		if n.req[i] == ReqNull {
			continue
		}
		g, err := tensor.NewRaw(in.Shape(), in.DType())
		if err != nil {
			return nil, err
		}
		inGrad[i] = g
	}

	if err := n.op.Backward(n.req, outputGrads, n.inputs, n.outputs, inGrad); err != nil {
		return nil, err
	}
	return inGrad, nil
}
