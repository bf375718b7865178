package tensor

// Tensor is the backend-neutral view of a tensor. Statistic collectors and
// algorithms only see this interface; backends wrap their runtime tensors to
// provide it.
type Tensor interface {
	Shape() Shape
	DType() DataType
	// Float32s returns a copy of the elements converted to float32.
	Float32s() []float32
}

var _ Tensor = (*RawTensor)(nil)
