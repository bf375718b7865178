package tensor

import (
	"fmt"
	"math"
	"sort"
)

// ReduceOp selects the reduction applied by Reduce.
type ReduceOp int

// Supported reductions.
const (
	ReduceMean ReduceOp = iota
	ReduceSum
	ReduceMin
	ReduceMax
)

// Reduce reduces t over every axis not listed in keep. The result has the
// kept dimensions in ascending axis order; an empty keep list reduces to a
// scalar. Negative axes count from the end.
func Reduce(t Tensor, keep []int, op ReduceOp) (*RawTensor, error) {
	shape := t.Shape()
	axes, err := normalizeAxes(shape, keep)
	if err != nil {
		return nil, err
	}

	outShape := make(Shape, len(axes))
	for i, axis := range axes {
		outShape[i] = shape[axis]
	}
	outStrides := outShape.ComputeStrides()
	inStrides := shape.ComputeStrides()

	values := t.Float32s()
	n := outShape.NumElements()
	acc := make([]float64, n)
	counts := make([]int, n)
	switch op {
	case ReduceMin:
		for i := range acc {
			acc[i] = math.Inf(1)
		}
	case ReduceMax:
		for i := range acc {
			acc[i] = math.Inf(-1)
		}
	}

	for flat, v := range values {
		out := 0
		for i, axis := range axes {
			idx := (flat / inStrides[axis]) % shape[axis]
			out += idx * outStrides[i]
		}
		counts[out]++
		switch op {
		case ReduceMean, ReduceSum:
			acc[out] += float64(v)
		case ReduceMin:
			acc[out] = math.Min(acc[out], float64(v))
		case ReduceMax:
			acc[out] = math.Max(acc[out], float64(v))
		}
	}

	result, err := NewRaw(outShape, Float32)
	if err != nil {
		return nil, err
	}
	dst := result.AsFloat32()
	for i := range dst {
		if op == ReduceMean && counts[i] > 0 {
			acc[i] /= float64(counts[i])
		}
		dst[i] = float32(acc[i])
	}
	return result, nil
}

// normalizeAxes resolves negative axes, rejects duplicates and sorts.
func normalizeAxes(shape Shape, axes []int) ([]int, error) {
	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		axis, err := shape.NormalizeAxis(a)
		if err != nil {
			return nil, err
		}
		if seen[axis] {
			return nil, fmt.Errorf("duplicate axis %d", a)
		}
		seen[axis] = true
		out = append(out, axis)
	}
	sort.Ints(out)
	return out, nil
}
