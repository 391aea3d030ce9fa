package autodiff

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/loss"
	"github.com/born-ml/squeezedet/internal/tensor"
)

// Registered names of the detection loss operator. RegressionOutputAlias is
// the name existing SqueezeDet graph definitions refer to.
const (
	RegressionOutputName  = "DetectionRegressionOutput"
	RegressionOutputAlias = "BigRegressionOutput"
)

// RegressionOutputProp describes the detection loss operator: arguments
// [data, label], output [output], no upstream gradient.
//
// Forward passes data through unchanged; the loss exists only as the
// gradient Backward writes for data.
type RegressionOutputProp struct {
	engine *loss.Engine
}

// NewRegressionOutputProp creates the operator description for cfg.
func NewRegressionOutputProp(cfg config.Config, opts ...loss.Option) (*RegressionOutputProp, error) {
	engine, err := loss.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &RegressionOutputProp{engine: engine}, nil
}

// Engine returns the gradient engine backing the operator.
func (p *RegressionOutputProp) Engine() *loss.Engine {
	return p.engine
}

// ListArguments returns [data, label].
func (p *RegressionOutputProp) ListArguments() []string {
	return []string{"data", "label"}
}

// ListOutputs returns [output].
func (p *RegressionOutputProp) ListOutputs() []string {
	return []string{"output"}
}

// NoGradArguments returns [label].
func (p *RegressionOutputProp) NoGradArguments() []string {
	return []string{"label"}
}

// NeedTopGrad returns false: the operator terminates the graph.
func (p *RegressionOutputProp) NeedTopGrad() bool {
	return false
}

// InferShape returns ([data, label], [data], []) and fails with a shape
// mismatch when data and label disagree on any dimension or data is not a
// packed tensor of the configured layout.
func (p *RegressionOutputProp) InferShape(in []tensor.Shape) (args, outs, aux []tensor.Shape, err error) {
	if len(in) != 2 {
		return nil, nil, nil, fmt.Errorf("%s: expected 2 input shapes, got %d", RegressionOutputName, len(in))
	}
	pred, label := in[0], in[1]
	if err := p.engine.CheckShapes(pred, label); err != nil {
		return nil, nil, nil, err
	}
	return []tensor.Shape{pred.Clone(), label.Clone()}, []tensor.Shape{pred.Clone()}, nil, nil
}

// CreateOperator builds the operator. Shapes are checked again at call time.
func (p *RegressionOutputProp) CreateOperator(shapes []tensor.Shape, dtypes []tensor.DataType) (CustomOp, error) {
	if _, _, _, err := p.InferShape(shapes); err != nil {
		return nil, err
	}
	if len(dtypes) != 2 || dtypes[0] != dtypes[1] {
		return nil, fmt.Errorf("%s: data and label must share a dtype, got %v", RegressionOutputName, dtypes)
	}
	return &RegressionOutput{engine: p.engine}, nil
}

// RegressionOutput is the executable detection loss operator.
type RegressionOutput struct {
	engine *loss.Engine
}

// Forward copies data into output.
func (op *RegressionOutput) Forward(_ bool, req []OpReq, inData, outData []*tensor.RawTensor) error {
	if len(inData) < 1 || len(outData) != 1 || len(req) != 1 {
		return fmt.Errorf("%s forward: got %d inputs, %d outputs, %d requests", RegressionOutputName, len(inData), len(outData), len(req))
	}
	return Assign(outData[0], req[0], inData[0])
}

// Backward writes the detection loss gradient for data into inGrad[0].
// outGrad is ignored and the label gradient inGrad[1] is never written.
func (op *RegressionOutput) Backward(req []OpReq, _, inData, _, inGrad []*tensor.RawTensor) error {
	if len(inData) != 2 || len(inGrad) < 1 || len(req) < 1 {
		return fmt.Errorf("%s backward: got %d inputs, %d gradients, %d requests", RegressionOutputName, len(inData), len(inGrad), len(req))
	}
	if req[0] == ReqNull {
		return nil
	}

	grad, err := op.engine.Gradient(inData[0], inData[1])
	if err != nil {
		return fmt.Errorf("%s backward: %w", RegressionOutputName, err)
	}
	return Assign(inGrad[0], req[0], grad)
}
