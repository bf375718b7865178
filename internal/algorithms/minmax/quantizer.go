package minmax

import (
	"fmt"
	"math"

	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// minScale keeps scales positive for constant tensors.
const minScale = 1e-8

// AsymmetricParams returns uint8 per-tensor parameters covering [lo, hi]
// widened to include zero, so zero is exactly representable.
func AsymmetricParams(lo, hi float32) transform.QuantizerParams {
	lo, hi = min(lo, 0), max(hi, 0)
	scale := max((float64(hi)-float64(lo))/255, minScale)
	zp := math.RoundToEven(-float64(lo) / scale)
	zp = math.Min(math.Max(zp, 0), 255)
	return transform.QuantizerParams{
		Scale:     []float32{float32(scale)},
		ZeroPoint: []int32{int32(zp)},
		DType:     tensor.Uint8,
	}
}

// SymmetricParams returns zero-centred parameters covering [lo, hi]: uint8
// when the range is non-negative, int8 otherwise.
func SymmetricParams(lo, hi float32) transform.QuantizerParams {
	if lo >= 0 {
		return transform.QuantizerParams{
			Scale:     []float32{float32(max(float64(hi)/255, minScale))},
			ZeroPoint: []int32{0},
			DType:     tensor.Uint8,
		}
	}
	absMax := max(math.Abs(float64(lo)), math.Abs(float64(hi)))
	return transform.QuantizerParams{
		Scale:     []float32{float32(max(absMax/127, minScale))},
		ZeroPoint: []int32{0},
		DType:     tensor.Int8,
	}
}

// WeightParams returns symmetric int8 parameters from per-channel bounds.
// With a single channel the quantizer is per-tensor.
func WeightParams(lo, hi []float32, axis int) (transform.QuantizerParams, error) {
	if len(lo) == 0 || len(lo) != len(hi) {
		return transform.QuantizerParams{}, fmt.Errorf("weight bounds: %d minimums, %d maximums", len(lo), len(hi))
	}
	p := transform.QuantizerParams{
		Scale:     make([]float32, len(lo)),
		ZeroPoint: make([]int32, len(lo)),
		DType:     tensor.Int8,
		Axis:      axis,
	}
	for i := range lo {
		absMax := max(math.Abs(float64(lo[i])), math.Abs(float64(hi[i])))
		p.Scale[i] = float32(max(absMax/127, minScale))
	}
	return p, nil
}
