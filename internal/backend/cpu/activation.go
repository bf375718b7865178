package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/ptq/internal/tensor"
)

// Relu computes max(x, 0).
func (cpu *CPUBackend) Relu(x *tensor.RawTensor) *tensor.RawTensor {
	return unaryOp("relu", x, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Sigmoid computes 1 / (1 + exp(-x)).
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return unaryOp("sigmoid", x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// Softmax computes a numerically stable softmax along axis.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, axis int) *tensor.RawTensor {
	shape := x.Shape()
	axis, err := shape.NormalizeAxis(axis)
	if err != nil {
		panic(fmt.Sprintf("softmax: %v", err))
	}

	result := newFloat32("softmax", shape)
	src := float32Data(x)
	dst := result.AsFloat32()

	dim := shape[axis]
	inner := shape.ComputeStrides()[axis]
	outer := shape.NumElements() / (dim * inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*dim*inner + i
			maxVal := float32(math.Inf(-1))
			for d := 0; d < dim; d++ {
				maxVal = max(maxVal, src[base+d*inner])
			}
			var sum float64
			for d := 0; d < dim; d++ {
				e := math.Exp(float64(src[base+d*inner] - maxVal))
				dst[base+d*inner] = float32(e)
				sum += e
			}
			for d := 0; d < dim; d++ {
				dst[base+d*inner] = float32(float64(dst[base+d*inner]) / sum)
			}
		}
	}
	return result
}

// GlobalAveragePool averages every spatial dimension: [N, C, ...] -> [N, C, 1, ...].
func (cpu *CPUBackend) GlobalAveragePool(x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) < 3 {
		panic(fmt.Sprintf("global_average_pool: input must be at least 3D, got %v", shape))
	}

	outShape := tensor.Shape{shape[0], shape[1]}
	for range shape[2:] {
		outShape = append(outShape, 1)
	}
	result := newFloat32("global_average_pool", outShape)

	src := float32Data(x)
	dst := result.AsFloat32()
	spatial := shape[2:].NumElements()
	for i := range dst {
		var sum float64
		for _, v := range src[i*spatial : (i+1)*spatial] {
			sum += float64(v)
		}
		dst[i] = float32(sum / float64(spatial))
	}
	return result
}
