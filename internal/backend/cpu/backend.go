// Package cpu implements the reference CPU compute backend used to execute
// calibration sub-models.
package cpu

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// CPUBackend implements tensor.Backend in pure Go. All arithmetic runs in
// float32; integer inputs are converted on entry.
type CPUBackend struct {
	device tensor.Device
}

var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("div", a, b, func(x, y float32) float32 { return x / y })
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return unaryOp("mul_scalar", x, func(v float32) float32 { return v * scalar })
}

// Transpose permutes the dimensions of t. No axes reverses them.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v for %dD tensor", axes, ndim))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := newFloat32("transpose", newShape)
	src := float32Data(t)
	dst := result.AsFloat32()
	inStrides := shape.ComputeStrides()
	outStrides := newShape.ComputeStrides()

	for outIdx := range dst {
		rem := outIdx
		inIdx := 0
		for i := 0; i < ndim; i++ {
			coord := rem / outStrides[i]
			rem %= outStrides[i]
			inIdx += coord * inStrides[axes[i]]
		}
		dst[outIdx] = src[inIdx]
	}
	return result
}

// newFloat32 allocates a float32 result tensor or panics with the op name.
func newFloat32(op string, shape tensor.Shape) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

// float32Data returns the elements of t as float32, without copying when the
// tensor already holds float32.
func float32Data(t *tensor.RawTensor) []float32 {
	if t.DType() == tensor.Float32 {
		return t.AsFloat32()
	}
	return t.Float32s()
}
