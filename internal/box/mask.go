package box

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/tensor"
)

// AnchorMask returns a (batch, A, 1, H, W) tensor holding 1 for every anchor
// whose reference attributes are not all zero, and 0 otherwise. The label
// provider writes all-zero boxes for anchors without a ground-truth object.
func AnchorMask(reference *tensor.RawTensor) (*tensor.RawTensor, error) {
	s := reference.Shape()
	if len(s) != 5 {
		return nil, &tensor.ShapeMismatchError{Op: "mask", Got: s.Clone(), Detail: "want block of rank 5"}
	}

	batch, anchors, attrs, plane := s[0], s[1], s[2], s[3]*s[4]
	mask, err := tensor.NewRaw(tensor.Shape{batch, anchors, 1, s[3], s[4]}, reference.DType())
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}

	ref := reference.Float64s()
	out := make([]float64, mask.NumElements())
	for na := 0; na < batch*anchors; na++ {
		dst := out[na*plane : (na+1)*plane]
		for j := 0; j < attrs; j++ {
			off := (na*attrs + j) * plane
			for i, v := range ref[off : off+plane] {
				if v != 0 {
					dst[i] = 1
				}
			}
		}
	}

	mask.SetFloat64s(out)
	return mask, nil
}

// MaskNonzero returns a copy of block with every anchor zeroed whose
// reference attributes are all zero. block and reference must agree on
// batch, anchors, height and width; their attribute counts may differ.
func MaskNonzero(block, reference *tensor.RawTensor) (*tensor.RawTensor, error) {
	bs, rs := block.Shape(), reference.Shape()
	if len(bs) != 5 || len(rs) != 5 || bs[0] != rs[0] || bs[1] != rs[1] || bs[3] != rs[3] || bs[4] != rs[4] {
		return nil, &tensor.ShapeMismatchError{
			Op: "mask", Want: rs.Clone(), Got: bs.Clone(),
			Detail: "block and reference must share batch, anchor, height and width",
		}
	}

	mask, err := AnchorMask(reference)
	if err != nil {
		return nil, err
	}

	attrs, plane := bs[2], bs[3]*bs[4]
	m := mask.Float64s()
	data := block.Float64s()
	for na := 0; na < bs[0]*bs[1]; na++ {
		mp := m[na*plane : (na+1)*plane]
		for j := 0; j < attrs; j++ {
			dst := data[(na*attrs+j)*plane:][:plane]
			// Assigned, not multiplied: a masked -Inf or NaN reads 0.
			for i, keep := range mp {
				if keep == 0 {
					dst[i] = 0
				}
			}
		}
	}

	out, err := tensor.NewRaw(bs, block.DType())
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	out.SetFloat64s(data)
	return out, nil
}
