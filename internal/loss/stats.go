package loss

import (
	"math"

	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/born-ml/squeezedet/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// ComponentStats summarizes one gradient block.
type ComponentStats struct {
	Norm   float64 // L2 norm
	MaxAbs float64 // Largest absolute value
	Mean   float64 // Arithmetic mean
}

// Summary holds per-component gradient statistics.
type Summary struct {
	BBox  ComponentStats
	Class ComponentStats
	Score ComponentStats
}

// Stats summarizes decoded gradient blocks, e.g. for training logs.
func Stats(grads layout.Blocks) Summary {
	return Summary{
		BBox:  componentStats(grads.BBox),
		Class: componentStats(grads.Class),
		Score: componentStats(grads.Score),
	}
}

func componentStats(t *tensor.RawTensor) ComponentStats {
	if t == nil {
		return ComponentStats{}
	}
	v := t.Float64s()
	return ComponentStats{
		Norm:   floats.Norm(v, 2),
		MaxAbs: floats.Norm(v, math.Inf(1)),
		Mean:   floats.Sum(v) / float64(len(v)),
	}
}
