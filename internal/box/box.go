// Package box provides per-anchor box utilities over decoded blocks:
// intersection-over-union between predicted and label boxes, and masking of
// anchors that carry no ground-truth assignment.
//
// Boxes are in center form: attribute 0..3 of a bbox block are (cx, cy, w, h).
package box

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// NumAttrs is the number of bbox attributes IOU understands.
const NumAttrs = 4

// IOUFunc computes per-anchor IOU for two bbox blocks of shape
// (batch, A, 4, H, W), returning a (batch, A, 1, H, W) tensor.
type IOUFunc func(pred, label *tensor.RawTensor) (*tensor.RawTensor, error)

// IOU computes the intersection-over-union of every predicted box with the
// label box of the same anchor and cell. Degenerate pairs whose union area is
// not positive get IOU 0.
func IOU(pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := tensor.CheckSameShape("iou", pred.Shape(), label.Shape()); err != nil {
		return nil, err
	}
	s := pred.Shape()
	if len(s) != 5 || s[2] != NumAttrs {
		return nil, &tensor.ShapeMismatchError{
			Op: "iou", Got: s.Clone(),
			Detail: fmt.Sprintf("want bbox block (batch, anchor, %d, height, width)", NumAttrs),
		}
	}

	batch, anchors, plane := s[0], s[1], s[3]*s[4]
	out, err := tensor.NewRaw(tensor.Shape{batch, anchors, 1, s[3], s[4]}, pred.DType())
	if err != nil {
		return nil, fmt.Errorf("iou: %w", err)
	}

	p := pred.Float64s()
	l := label.Float64s()
	result := make([]float64, out.NumElements())

	predArea := make([]float64, plane)
	labelArea := make([]float64, plane)
	for na := 0; na < batch*anchors; na++ {
		pb := planes(p, na, plane)
		lb := planes(l, na, plane)

		floats.MulTo(predArea, pb[2], pb[3])
		floats.MulTo(labelArea, lb[2], lb[3])

		dst := result[na*plane : (na+1)*plane]
		for i := range dst {
			iw := overlap(pb[0][i], pb[2][i], lb[0][i], lb[2][i])
			ih := overlap(pb[1][i], pb[3][i], lb[1][i], lb[3][i])
			inter := iw * ih
			union := predArea[i] + labelArea[i] - inter
			if union > 0 {
				dst[i] = inter / union
			}
		}
	}

	out.SetFloat64s(result)
	return out, nil
}

// planes returns the four attribute planes of anchor index na
// (na = n*anchors + a) from a flattened bbox block.
func planes(data []float64, na, plane int) [NumAttrs][]float64 {
	var out [NumAttrs][]float64
	base := na * NumAttrs * plane
	for j := range out {
		off := base + j*plane
		out[j] = data[off : off+plane]
	}
	return out
}

// overlap returns the length of the intersection of two centered intervals.
func overlap(c1, len1, c2, len2 float64) float64 {
	lo := max(c1-len1/2, c2-len2/2)
	hi := min(c1+len1/2, c2+len2/2)
	return max(hi-lo, 0)
}
