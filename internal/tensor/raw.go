package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level dense tensor representation: a row-major byte
// buffer interpreted through a shape and a runtime data type.
//
// RawTensor values handed to the codec and the gradient engine are treated as
// immutable; every operation allocates its result.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
//
// Example:
//
//	pred, err := tensor.FromSlice([]float32{2.0, 0.7, 0.9}, tensor.Shape{1, 3, 1, 1})
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy))
	if err != nil {
		return nil, err
	}

	switch dst := any(raw.typed()).(type) {
	case []float32:
		for i, v := range data {
			dst[i] = float32(v)
		}
	case []float64:
		for i, v := range data {
			dst[i] = float64(v)
		}
	}
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's row-major element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Rank returns the number of dimensions.
func (r *RawTensor) Rank() int {
	return len(r.shape)
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// typed returns AsFloat32 or AsFloat64 depending on dtype.
func (r *RawTensor) typed() any {
	if r.dtype == Float32 {
		return r.AsFloat32()
	}
	return r.AsFloat64()
}

// Float64s returns a float64 copy of the tensor's elements.
// For Float64 tensors the result does not alias the tensor.
func (r *RawTensor) Float64s() []float64 {
	out := make([]float64, r.NumElements())
	switch src := r.typed().(type) {
	case []float32:
		for i, v := range src {
			out[i] = float64(v)
		}
	case []float64:
		copy(out, src)
	}
	return out
}

// SetFloat64s overwrites the tensor's elements from src, converting to the
// tensor's dtype. Panics if len(src) differs from NumElements.
func (r *RawTensor) SetFloat64s(src []float64) {
	if len(src) != r.NumElements() {
		panic(fmt.Sprintf("SetFloat64s: got %d values for %d elements", len(src), r.NumElements()))
	}
	switch dst := r.typed().(type) {
	case []float32:
		for i, v := range src {
			dst[i] = float32(v)
		}
	case []float64:
		copy(dst, src)
	}
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
	}
}

// CopyFrom overwrites r with the contents of src.
// Both tensors must have the same shape and dtype.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if r.dtype != src.dtype {
		return fmt.Errorf("copy: dtype %s into %s", src.dtype, r.dtype)
	}
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("copy: shape %v into %v", src.shape, r.shape)
	}
	copy(r.data, src.data)
	return nil
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor[%s]%v", r.dtype, r.shape)
}
