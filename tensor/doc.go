// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the shapes and float32 tensors used by YOLO
// graphs.
//
// # Overview
//
// Graphs are symbolic: activations only carry a Shape, and any dimension
// may be Dynamic. Parameters are dense RawTensors, row-major, in the
// layouts the graph expects:
//   - Convolution kernels: HWIO, [kh, kw, in, out]
//   - Bias and batch-norm vectors: [filters]
//
// # Basic Usage
//
//	import "github.com/born-ml/yolo/tensor"
//
//	func main() {
//	    shape, _ := tensor.ParseShape("416,416,3")
//	    fmt.Println(shape) // [416 416 3]
//
//	    k, _ := tensor.New(tensor.Shape{64, 32, 3, 3})
//	    hwio, _ := tensor.TransposeAxes(k, 2, 3, 1, 0)
//	    fmt.Println(hwio.Shape()) // [3 3 32 64]
//	}
package tensor
