package loss

import (
	"fmt"
	"math"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// BBoxGradient computes the squared-error gradient 2 * (pred - label)
// for every bbox attribute of every anchor.
func BBoxGradient(pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	return elementwise("bbox", pred, label, func(dst, p, l []float64) {
		floats.SubTo(dst, p, l)
		floats.Scale(2, dst)
	})
}

// ClassGradient computes pred * log(1 - label) + pred * log(label).
//
// This is not the derivative of binary or categorical cross-entropy with
// respect to pred. Labels of exactly 0 or 1 produce infinities and are
// returned as such.
func ClassGradient(pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	return elementwise("class", pred, label, func(dst, p, l []float64) {
		for i := range dst {
			dst[i] = p[i]*math.Log(1-l[i]) + p[i]*math.Log(l[i])
		}
	})
}

// ScoreGradient computes the confidence gradient selected by the engine's
// ScoreRule. The bbox blocks are only read by config.ScoreIOU.
func (e *Engine) ScoreGradient(predBBox, labelBBox, predScore *tensor.RawTensor) (*tensor.RawTensor, error) {
	switch e.cfg.ScoreRule {
	case config.ScorePassthrough:
		return predScore.Clone(), nil
	case config.ScoreIOU:
		iou, err := e.iou(predBBox, labelBBox)
		if err != nil {
			return nil, fmt.Errorf("score: %w", err)
		}
		return elementwise("score", predScore, iou, func(dst, s, target []float64) {
			floats.SubTo(dst, s, target)
			floats.Scale(2, dst)
		})
	default:
		return nil, &config.ConfigurationError{Config: e.cfg, Detail: fmt.Sprintf("unknown score rule %d", e.cfg.ScoreRule)}
	}
}

// elementwise evaluates f over float64 lanes of a and b and returns a fresh
// tensor with a's shape and dtype.
func elementwise(op string, a, b *tensor.RawTensor, f func(dst, a, b []float64)) (*tensor.RawTensor, error) {
	if err := tensor.CheckSameShape(op, a.Shape(), b.Shape()); err != nil {
		return nil, err
	}

	dst := make([]float64, a.NumElements())
	f(dst, a.Float64s(), b.Float64s())

	out, err := tensor.NewRaw(a.Shape(), a.DType())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out.SetFloat64s(dst)
	return out, nil
}
