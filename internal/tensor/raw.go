package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	if d == CPU {
		return "CPU"
	}
	return "Unknown"
}

// RawTensor is the runtime tensor representation: a contiguous row-major
// byte buffer with shape and element type.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
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

// MustNewRaw is like NewRaw but panics on an invalid shape.
func MustNewRaw(shape Shape, dtype DataType) *RawTensor {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		panic(err)
	}
	return t
}

// FromSlice creates a tensor of the given shape holding a copy of values.
func FromSlice[T DType](shape Shape, values []T) (*RawTensor, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(values))
	}
	t, err := NewRaw(shape, inferDataType[T]())
	if err != nil {
		return nil, err
	}
	copy(Values[T](t), values)
	return t, nil
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// Values interprets the tensor memory as []T without copying.
// Panics if T does not match the tensor's dtype.
func Values[T DType](r *RawTensor) []T {
	if dt := inferDataType[T](); dt != r.dtype {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, dt))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	return Values[float32](r)
}

// AsFloat64 interprets the data as []float64.
func (r *RawTensor) AsFloat64() []float64 {
	return Values[float64](r)
}

// AsInt8 interprets the data as []int8.
func (r *RawTensor) AsInt8() []int8 {
	return Values[int8](r)
}

// AsUint8 interprets the data as []uint8.
func (r *RawTensor) AsUint8() []uint8 {
	return Values[uint8](r)
}

// AsInt32 interprets the data as []int32.
func (r *RawTensor) AsInt32() []int32 {
	return Values[int32](r)
}

// AsInt64 interprets the data as []int64.
func (r *RawTensor) AsInt64() []int64 {
	return Values[int64](r)
}

// Float32s returns a float32 copy of the elements, converting from the
// tensor's dtype.
func (r *RawTensor) Float32s() []float32 {
	out := make([]float32, r.NumElements())
	switch r.dtype {
	case Float32:
		copy(out, r.AsFloat32())
	case Float64:
		convert(out, r.AsFloat64())
	case Int8:
		convert(out, r.AsInt8())
	case Uint8:
		convert(out, r.AsUint8())
	case Int32:
		convert(out, r.AsInt32())
	case Int64:
		convert(out, r.AsInt64())
	}
	return out
}

func convert[T DType](dst []float32, src []T) {
	for i, v := range src {
		dst[i] = float32(v)
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

// Reshape returns a tensor sharing the data with a new shape of the same size.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v to %v", r.shape, shape)
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
	}, nil
}

// String returns a short description of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%s, %v)", r.dtype, r.shape)
}
