// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float tensors consumed and produced by
// the detection loss.
//
// # Overview
//
// A RawTensor is a contiguous row-major buffer with a Shape and a DataType.
// Only float32 and float64 are supported:
//
//	pred, err := tensor.FromSlice([]float32{2.0, 0.7, 0.9}, tensor.Shape{1, 3, 1, 1})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data := pred.AsFloat32() // Zero-copy view
//	clone := pred.Clone()    // Deep copy
//
// # Errors
//
// Operations that require two tensors to agree on shape report a
// *ShapeMismatchError, which matches ErrShapeMismatch under errors.Is.
package tensor
