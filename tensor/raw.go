package tensor

import (
	"github.com/born-ml/ptq/internal/tensor"
)

// RawTensor is a contiguous tensor with a runtime element type.
type RawTensor = tensor.RawTensor

// Shape is the list of tensor dimensions.
type Shape = tensor.Shape

// DataType identifies the element type of a RawTensor.
type DataType = tensor.DataType

// DType constrains the Go element types a tensor can hold.
type DType = tensor.DType

// Supported element types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int8    = tensor.Int8
	Uint8   = tensor.Uint8
	Int32   = tensor.Int32
	Int64   = tensor.Int64
)

// FromSlice creates a tensor of the given shape holding a copy of values.
func FromSlice[T DType](shape Shape, values []T) (*RawTensor, error) {
	return tensor.FromSlice(shape, values)
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}
