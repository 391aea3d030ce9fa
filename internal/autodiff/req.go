package autodiff

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// OpReq tells an operator how to store a result into a destination buffer.
type OpReq int

// Request modes.
const (
	ReqNull    OpReq = iota // Skip: the destination is not needed.
	ReqWrite                // Overwrite the destination.
	ReqInplace              // Destination aliases an input; overwrite.
	ReqAdd                  // Accumulate into the destination.
)

// String returns the request mode name.
func (r OpReq) String() string {
	switch r {
	case ReqNull:
		return "null"
	case ReqWrite:
		return "write"
	case ReqInplace:
		return "inplace"
	case ReqAdd:
		return "add"
	default:
		return "unknown"
	}
}

// Assign stores src into dst according to req.
func Assign(dst *tensor.RawTensor, req OpReq, src *tensor.RawTensor) error {
	switch req {
	case ReqNull:
		return nil
	case ReqWrite, ReqInplace:
		if dst == src {
			return nil
		}
		return dst.CopyFrom(src)
	case ReqAdd:
		if dst.DType() != src.DType() {
			return fmt.Errorf("assign add: dtype %s into %s", src.DType(), dst.DType())
		}
		if err := tensor.CheckSameShape("assign", dst.Shape(), src.Shape()); err != nil {
			return err
		}
		sum := dst.Float64s()
		floats.Add(sum, src.Float64s())
		dst.SetFloat64s(sum)
		return nil
	default:
		return fmt.Errorf("assign: unknown request %d", req)
	}
}
