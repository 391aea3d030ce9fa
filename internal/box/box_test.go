package box

import (
	"math"
	"testing"

	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bboxBlock builds a (1, len(boxes), 4, 1, 1) block from center-form boxes.
func bboxBlock(t *testing.T, boxes ...[4]float64) *tensor.RawTensor {
	t.Helper()
	values := make([]float64, 0, 4*len(boxes))
	for _, b := range boxes {
		values = append(values, b[:]...)
	}
	raw, err := tensor.FromSlice(values, tensor.Shape{1, len(boxes), 4, 1, 1})
	require.NoError(t, err)
	return raw
}

func TestIOU(t *testing.T) {
	tests := []struct {
		name        string
		pred, label [4]float64
		want        float64
	}{
		{"identical", [4]float64{5, 5, 2, 2}, [4]float64{5, 5, 2, 2}, 1},
		{"disjoint", [4]float64{0, 0, 2, 2}, [4]float64{10, 10, 2, 2}, 0},
		{"half shifted", [4]float64{1, 1, 2, 2}, [4]float64{2, 1, 2, 2}, 2.0 / 6.0},
		{"contained", [4]float64{0, 0, 4, 4}, [4]float64{0, 0, 2, 2}, 0.25},
		{"touching edges", [4]float64{0, 0, 2, 2}, [4]float64{2, 0, 2, 2}, 0},
		{"degenerate", [4]float64{0, 0, 0, 0}, [4]float64{0, 0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iou, err := IOU(bboxBlock(t, tt.pred), bboxBlock(t, tt.label))
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 1, 1, 1, 1}, iou.Shape())
			assert.InDelta(t, tt.want, iou.AsFloat64()[0], 1e-12)
		})
	}
}

func TestIOU_PerAnchor(t *testing.T) {
	pred := bboxBlock(t, [4]float64{5, 5, 2, 2}, [4]float64{0, 0, 4, 4})
	label := bboxBlock(t, [4]float64{5, 5, 2, 2}, [4]float64{0, 0, 2, 2})

	iou, err := IOU(pred, label)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 1, 1, 1}, iou.Shape())
	assert.InDeltaSlice(t, []float64{1, 0.25}, iou.AsFloat64(), 1e-12)
}

func TestIOU_Float32Grid(t *testing.T) {
	// Two cells on a 1x2 grid, one anchor: planes are laid out attribute-major.
	pred, err := tensor.FromSlice([]float32{
		1, 0, // cx
		1, 0, // cy
		2, 2, // w
		2, 2, // h
	}, tensor.Shape{1, 1, 4, 1, 2})
	require.NoError(t, err)
	label, err := tensor.FromSlice([]float32{
		1, 10,
		1, 10,
		2, 2,
		2, 2,
	}, tensor.Shape{1, 1, 4, 1, 2})
	require.NoError(t, err)

	iou, err := IOU(pred, label)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, iou.DType())
	assert.Equal(t, []float32{1, 0}, iou.AsFloat32())
}

func TestIOU_ShapeErrors(t *testing.T) {
	a := bboxBlock(t, [4]float64{0, 0, 1, 1})
	b := bboxBlock(t, [4]float64{0, 0, 1, 1}, [4]float64{0, 0, 1, 1})

	_, err := IOU(a, b)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	three, err := tensor.NewRaw(tensor.Shape{1, 1, 3, 1, 1}, tensor.Float64)
	require.NoError(t, err)
	_, err = IOU(three, three)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestAnchorMask(t *testing.T) {
	ref := bboxBlock(t, [4]float64{0, 0, 0, 0}, [4]float64{0, 0, 0, 0.5}, [4]float64{1, 2, 3, 4})

	mask, err := AnchorMask(ref)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 1, 1, 1}, mask.Shape())
	assert.Equal(t, []float64{0, 1, 1}, mask.AsFloat64())
}

func TestMaskNonzero(t *testing.T) {
	ref := bboxBlock(t, [4]float64{0, 0, 0, 0}, [4]float64{1, 1, 1, 1})

	// Class block with 2 attributes per anchor.
	grad, err := tensor.FromSlice([]float64{3, 4, 5, 6}, tensor.Shape{1, 2, 2, 1, 1})
	require.NoError(t, err)

	masked, err := MaskNonzero(grad, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 5, 6}, masked.AsFloat64())
	assert.Equal(t, []float64{3, 4, 5, 6}, grad.AsFloat64(), "input must not be modified")
}

func TestMaskNonzero_NonFinite(t *testing.T) {
	ref := bboxBlock(t, [4]float64{1, 1, 1, 1}, [4]float64{0, 0, 0, 0})

	// An unassigned anchor with a zero class label has a -Inf class gradient.
	grad, err := tensor.FromSlice([]float64{-1.09, 0.5, math.Inf(-1), math.NaN()}, tensor.Shape{1, 2, 2, 1, 1})
	require.NoError(t, err)

	masked, err := MaskNonzero(grad, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.09, 0.5, 0, 0}, masked.AsFloat64())
}

func TestMaskNonzero_ShapeMismatch(t *testing.T) {
	ref := bboxBlock(t, [4]float64{1, 1, 1, 1})
	grad, err := tensor.NewRaw(tensor.Shape{1, 2, 1, 1, 1}, tensor.Float64)
	require.NoError(t, err)

	_, err = MaskNonzero(grad, ref)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
