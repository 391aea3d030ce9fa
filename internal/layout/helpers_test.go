package layout

import (
	"errors"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/tensor"
)

func isShapeMismatch(err error) bool {
	return errors.Is(err, tensor.ErrShapeMismatch)
}

func isConfiguration(err error) bool {
	return errors.Is(err, config.ErrConfiguration)
}
