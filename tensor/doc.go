// Package tensor exposes the tensor type used for calibration samples and
// model inputs and outputs.
//
// Tensors are contiguous, row-major and typed at runtime:
//
//	x, err := tensor.FromSlice(tensor.Shape{1, 3}, []float32{0.1, 0.2, 0.3})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(x.Shape(), x.DType())
package tensor
