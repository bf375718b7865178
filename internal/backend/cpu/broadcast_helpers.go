package cpu

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// computeBroadcastStridesForShape computes strides for broadcasting a shape to outShape.
// Returns strides where dimensions of size 1 have stride 0 (for broadcasting).
func computeBroadcastStridesForShape(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		if inIdx < 0 || inShape[inIdx] == 1 {
			strides[i] = 0
			continue
		}
		strides[i] = origStrides[inIdx]
	}

	return strides
}

// computeFlatIndex computes the flat index in the source array for a given output index.
func computeFlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}

// binaryOp applies fn element-wise with broadcasting.
func binaryOp(op string, a, b *tensor.RawTensor, fn func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := newFloat32(op, outShape)
	aData, bData := float32Data(a), float32Data(b)
	dst := result.AsFloat32()

	if !needsBroadcast {
		for i := range dst {
			dst[i] = fn(aData[i], bData[i])
		}
		return result
	}

	outStrides := outShape.ComputeStrides()
	aStrides := computeBroadcastStridesForShape(a.Shape(), outShape)
	bStrides := computeBroadcastStridesForShape(b.Shape(), outShape)
	for i := range dst {
		dst[i] = fn(aData[computeFlatIndex(i, outStrides, aStrides)], bData[computeFlatIndex(i, outStrides, bStrides)])
	}
	return result
}

// unaryOp applies fn to every element.
func unaryOp(op string, x *tensor.RawTensor, fn func(v float32) float32) *tensor.RawTensor {
	result := newFloat32(op, x.Shape())
	src := float32Data(x)
	dst := result.AsFloat32()
	for i, v := range src {
		dst[i] = fn(v)
	}
	return result
}
