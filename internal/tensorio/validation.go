package tensorio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/squeezedet/internal/tensor"
)

// validateName rejects names that could be mistaken for paths.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidTensorName)
	case name == metadataKey:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTensorName, name)
	case len(name) > MaxTensorNameLen:
		return fmt.Errorf("%w: length %d > max %d", ErrInvalidTensorName, len(name), MaxTensorNameLen)
	case strings.Contains(name, ".."), strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidTensorName, name)
	}
	return nil
}

// validateHeader checks every entry against the data section size: known
// dtype, valid shape, byte size matching the shape, in bounds and no overlap.
func validateHeader(h *header, dataSize int64) error {
	type region struct {
		name       string
		start, end int64
	}
	regions := make([]region, 0, len(h.Tensors))

	for name, info := range h.Tensors {
		if err := validateName(name); err != nil {
			return err
		}
		dt, err := fromDType(info.DType)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		shape := tensor.Shape(info.Shape)
		if err := shape.Validate(); err != nil {
			return &ValidationError{Type: "invalid_shape", Tensor: name, Details: err.Error()}
		}

		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  name,
				Details: fmt.Sprintf("offsets [%d, %d]", start, end),
			}
		}
		if end > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize),
			}
		}
		if want := int64(shape.NumElements() * dt.Size()); info.Size() != want {
			return &ValidationError{
				Type:    "size_mismatch",
				Tensor:  name,
				Details: fmt.Sprintf("%d bytes for shape %v %s, want %d", info.Size(), shape, info.DType, want),
			}
		}
		regions = append(regions, region{name, start, end})
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })
	for i := 1; i < len(regions); i++ {
		prev, cur := regions[i-1], regions[i]
		if prev.end > cur.start {
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  prev.name,
				Tensor2: cur.name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", prev.start, prev.end, cur.start, cur.end),
			}
		}
	}
	return nil
}
