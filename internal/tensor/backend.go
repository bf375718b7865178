package tensor

// ConvParams holds the attributes shared by Conv and ConvTranspose.
// Slices are per spatial dimension; Pads is [begin..., end...].
type ConvParams struct {
	Strides   []int
	Pads      []int
	Dilations []int
	Group     int
}

// Backend defines the compute operations the graph executor needs.
// Shape errors are reported by panicking; the executor turns them into errors
// attributed to the failing node.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Matrix operations
	MatMul(a, b *RawTensor) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// Convolutions over [N, C, H, W] inputs; bias may be nil.
	Conv2D(input, kernel, bias *RawTensor, p ConvParams) *RawTensor
	ConvTranspose2D(input, kernel, bias *RawTensor, p ConvParams) *RawTensor

	// Activations and pooling
	Relu(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, axis int) *RawTensor
	GlobalAveragePool(x *RawTensor) *RawTensor

	// Linear quantization. axis selects the per-channel dimension when scale
	// has more than one element.
	QuantizeLinear(x, scale, zeroPoint *RawTensor, axis int, dtype DataType) *RawTensor
	DequantizeLinear(x, scale, zeroPoint *RawTensor, axis int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
