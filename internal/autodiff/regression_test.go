package autodiff

import (
	"math"
	"testing"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyProp(t *testing.T) *RegressionOutputProp {
	t.Helper()
	prop, err := NewRegressionOutputProp(config.Config{AnchorsPerGrid: 1, NumBBoxAttrs: 1, NumClasses: 1})
	require.NoError(t, err)
	return prop
}

func examplePair(t *testing.T) (pred, label *tensor.RawTensor) {
	t.Helper()
	pred, err := tensor.FromSlice([]float32{2.0, 0.7, 0.9}, tensor.Shape{1, 3, 1, 1})
	require.NoError(t, err)
	label, err = tensor.FromSlice([]float32{1.0, 0.3, 1.0}, tensor.Shape{1, 3, 1, 1})
	require.NoError(t, err)
	return pred, label
}

func exampleClassGrad() float64 {
	return 0.7*math.Log(0.7) + 0.7*math.Log(0.3)
}

func TestRegressionOutputProp_Contract(t *testing.T) {
	prop := tinyProp(t)

	assert.Equal(t, []string{"data", "label"}, prop.ListArguments())
	assert.Equal(t, []string{"output"}, prop.ListOutputs())
	assert.Equal(t, []string{"label"}, prop.NoGradArguments())
	assert.False(t, prop.NeedTopGrad())
	assert.NotNil(t, prop.Engine())
}

func TestRegressionOutputProp_InferShape(t *testing.T) {
	prop := tinyProp(t)
	shape := tensor.Shape{4, 3, 7, 9}

	args, outs, aux, err := prop.InferShape([]tensor.Shape{shape, shape})
	require.NoError(t, err)
	assert.Equal(t, []tensor.Shape{shape, shape}, args)
	assert.Equal(t, []tensor.Shape{shape}, outs)
	assert.Empty(t, aux)
}

func TestRegressionOutputProp_InferShapeMismatch(t *testing.T) {
	prop := tinyProp(t)
	pred := tensor.Shape{4, 3, 7, 9}

	for name, label := range map[string]tensor.Shape{
		"batch":  {3, 3, 7, 9},
		"height": {4, 3, 8, 9},
		"width":  {4, 3, 7, 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := prop.InferShape([]tensor.Shape{pred, label})
			require.ErrorIs(t, err, tensor.ErrShapeMismatch)
		})
	}

	_, _, _, err := prop.InferShape([]tensor.Shape{pred})
	require.Error(t, err)
}

func TestRegressionOutputProp_CreateOperator(t *testing.T) {
	prop := tinyProp(t)
	shape := tensor.Shape{1, 3, 1, 1}

	op, err := prop.CreateOperator([]tensor.Shape{shape, shape}, []tensor.DataType{tensor.Float32, tensor.Float32})
	require.NoError(t, err)
	assert.NotNil(t, op)

	_, err = prop.CreateOperator([]tensor.Shape{shape, shape}, []tensor.DataType{tensor.Float32, tensor.Float64})
	require.Error(t, err)

	_, err = prop.CreateOperator([]tensor.Shape{shape, {2, 3, 1, 1}}, []tensor.DataType{tensor.Float32, tensor.Float32})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestRegressionOutput_ForwardIsIdentity(t *testing.T) {
	prop := tinyProp(t)
	pred, label := examplePair(t)

	op, err := prop.CreateOperator([]tensor.Shape{pred.Shape(), label.Shape()}, []tensor.DataType{pred.DType(), label.DType()})
	require.NoError(t, err)

	out, err := tensor.NewRaw(pred.Shape(), pred.DType())
	require.NoError(t, err)

	require.NoError(t, op.Forward(true, []OpReq{ReqWrite}, []*tensor.RawTensor{pred, label}, []*tensor.RawTensor{out}))
	assert.Equal(t, pred.AsFloat32(), out.AsFloat32())

	require.NoError(t, op.Forward(false, []OpReq{ReqAdd}, []*tensor.RawTensor{pred, label}, []*tensor.RawTensor{out}))
	assert.Equal(t, []float32{4.0, 1.4, 1.8}, out.AsFloat32())

	err = op.Forward(true, nil, []*tensor.RawTensor{pred, label}, []*tensor.RawTensor{out})
	require.Error(t, err)
}

func TestRegressionOutput_Backward(t *testing.T) {
	prop := tinyProp(t)
	pred, label := examplePair(t)

	op, err := prop.CreateOperator([]tensor.Shape{pred.Shape(), label.Shape()}, []tensor.DataType{pred.DType(), label.DType()})
	require.NoError(t, err)

	predGrad, err := tensor.NewRaw(pred.Shape(), pred.DType())
	require.NoError(t, err)
	labelGrad, err := tensor.FromSlice([]float32{-1, -1, -1}, label.Shape())
	require.NoError(t, err)

	err = op.Backward(
		[]OpReq{ReqWrite, ReqNull},
		nil,
		[]*tensor.RawTensor{pred, label},
		nil,
		[]*tensor.RawTensor{predGrad, labelGrad},
	)
	require.NoError(t, err)

	g := predGrad.AsFloat32()
	assert.Equal(t, float32(2.0), g[0])
	assert.InDelta(t, exampleClassGrad(), float64(g[1]), 1e-6)
	assert.Equal(t, float32(0.9), g[2])
	assert.Equal(t, []float32{-1, -1, -1}, labelGrad.AsFloat32(), "label gradient must not be written")
}

func TestRegressionOutput_BackwardRequests(t *testing.T) {
	prop := tinyProp(t)
	pred, label := examplePair(t)

	op, err := prop.CreateOperator([]tensor.Shape{pred.Shape(), label.Shape()}, []tensor.DataType{pred.DType(), label.DType()})
	require.NoError(t, err)

	t.Run("add", func(t *testing.T) {
		grad, err := tensor.FromSlice([]float32{1, 0, 1}, pred.Shape())
		require.NoError(t, err)

		require.NoError(t, op.Backward([]OpReq{ReqAdd, ReqNull}, nil, []*tensor.RawTensor{pred, label}, nil, []*tensor.RawTensor{grad, nil}))
		assert.Equal(t, float32(3.0), grad.AsFloat32()[0])
		assert.InDelta(t, 1.9, float64(grad.AsFloat32()[2]), 1e-6)
	})

	t.Run("null", func(t *testing.T) {
		grad, err := tensor.FromSlice([]float32{5, 5, 5}, pred.Shape())
		require.NoError(t, err)

		require.NoError(t, op.Backward([]OpReq{ReqNull, ReqNull}, nil, []*tensor.RawTensor{pred, label}, nil, []*tensor.RawTensor{grad, nil}))
		assert.Equal(t, []float32{5, 5, 5}, grad.AsFloat32())
	})

	t.Run("wrong arity", func(t *testing.T) {
		err := op.Backward([]OpReq{ReqWrite}, nil, []*tensor.RawTensor{pred}, nil, []*tensor.RawTensor{nil})
		require.Error(t, err)
	})
}

func TestRegressionOutput_BackwardShapeMismatch(t *testing.T) {
	prop := tinyProp(t)
	pred, _ := examplePair(t)
	label, err := tensor.NewRaw(tensor.Shape{2, 3, 1, 1}, tensor.Float32)
	require.NoError(t, err)

	// Bypass CreateOperator's checks to exercise the call-time check.
	op := &RegressionOutput{engine: prop.Engine()}
	grad, err := tensor.FromSlice([]float32{7, 7, 7}, pred.Shape())
	require.NoError(t, err)

	err = op.Backward([]OpReq{ReqWrite, ReqNull}, nil, []*tensor.RawTensor{pred, label}, nil, []*tensor.RawTensor{grad, nil})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, []float32{7, 7, 7}, grad.AsFloat32(), "no output on failure")
}
