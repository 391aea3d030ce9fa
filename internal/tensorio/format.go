package tensorio

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/squeezedet/internal/tensor"
)

// Header limits.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorNameLen = 4096
)

// Reserved header keys.
const (
	metadataKey = "__metadata__"

	// MetaChecksum is the metadata key holding the hex SHA-256 of the data section.
	MetaChecksum = "sha256"
)

// DType is a SafeTensors dtype string.
type DType string

// Supported dtypes.
const (
	F32 DType = "F32"
	F64 DType = "F64"
)

// TensorInfo describes one tensor entry of the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// Size returns the byte length of the tensor data.
func (i TensorInfo) Size() int64 {
	return i.DataOffsets[1] - i.DataOffsets[0]
}

// header is the decoded JSON header.
type header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

func (h *header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if raw, ok := rawMap[metadataKey]; ok {
		if err := json.Unmarshal(raw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == metadataKey {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

func (h header) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		m[metadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		m[name] = info
	}
	return json.Marshal(m)
}

func toDType(dt tensor.DataType) (DType, error) {
	switch dt {
	case tensor.Float32:
		return F32, nil
	case tensor.Float64:
		return F64, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

func fromDType(dt DType) (tensor.DataType, error) {
	switch dt {
	case F32:
		return tensor.Float32, nil
	case F64:
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}
