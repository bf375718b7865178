package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/ptq/internal/tensor"
)

// quantRange returns the saturation bounds of an integer quantized type.
func quantRange(dtype tensor.DataType) (lo, hi float64) {
	switch dtype {
	case tensor.Uint8:
		return 0, 255
	case tensor.Int8:
		return -128, 127
	default:
		panic(fmt.Sprintf("quantize_linear: unsupported output dtype %s", dtype))
	}
}

// channelParams returns a function mapping a flat element index to its
// (scale, zero point) pair. Scalars apply to every element; 1-D parameters
// are indexed along axis.
func channelParams(op string, shape tensor.Shape, scale, zeroPoint *tensor.RawTensor, axis int) func(i int) (float64, float64) {
	scales := float32Data(scale)
	var zps []float32
	if zeroPoint != nil {
		zps = zeroPoint.Float32s()
		if len(zps) != len(scales) {
			panic(fmt.Sprintf("%s: scale has %d elements, zero point %d", op, len(scales), len(zps)))
		}
	}
	zpAt := func(c int) float64 {
		if zps == nil {
			return 0
		}
		return float64(zps[c])
	}

	if len(scales) == 1 {
		return func(int) (float64, float64) { return float64(scales[0]), zpAt(0) }
	}

	ax, err := shape.NormalizeAxis(axis)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	if shape[ax] != len(scales) {
		panic(fmt.Sprintf("%s: %d scales for axis %d of %v", op, len(scales), axis, shape))
	}
	stride := shape.ComputeStrides()[ax]
	dim := shape[ax]
	return func(i int) (float64, float64) {
		c := (i / stride) % dim
		return float64(scales[c]), zpAt(c)
	}
}

// QuantizeLinear computes saturate(round_half_even(x / scale) + zero_point).
func (cpu *CPUBackend) QuantizeLinear(x, scale, zeroPoint *tensor.RawTensor, axis int, dtype tensor.DataType) *tensor.RawTensor {
	lo, hi := quantRange(dtype)
	params := channelParams("quantize_linear", x.Shape(), scale, zeroPoint, axis)

	result, err := tensor.NewRaw(x.Shape(), dtype)
	if err != nil {
		panic(fmt.Sprintf("quantize_linear: %v", err))
	}
	var store func(i int, q float64)
	if dtype == tensor.Uint8 {
		dst := result.AsUint8()
		store = func(i int, q float64) { dst[i] = uint8(q) }
	} else {
		dst := result.AsInt8()
		store = func(i int, q float64) { dst[i] = int8(q) }
	}

	for i, v := range float32Data(x) {
		s, zp := params(i)
		q := math.RoundToEven(float64(v)/s) + zp
		store(i, math.Max(lo, math.Min(hi, q)))
	}
	return result
}

// DequantizeLinear computes (x - zero_point) * scale as float32.
func (cpu *CPUBackend) DequantizeLinear(x, scale, zeroPoint *tensor.RawTensor, axis int) *tensor.RawTensor {
	params := channelParams("dequantize_linear", x.Shape(), scale, zeroPoint, axis)

	result := newFloat32("dequantize_linear", x.Shape())
	dst := result.AsFloat32()
	for i, v := range x.Float32s() {
		s, zp := params(i)
		dst[i] = float32((float64(v) - zp) * s)
	}
	return result
}
