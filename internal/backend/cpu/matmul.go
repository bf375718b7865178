package cpu

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// MatMul performs matrix multiplication.
//
// Supported forms:
//   - (M, K) @ (K, N) -> (M, N)
//   - (..., M, K) @ (K, N) -> (..., M, N)
//   - (B..., M, K) @ (B..., K, N) -> (B..., M, N) with identical batch dims
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) < 2 || len(bShape) < 2 {
		panic(fmt.Sprintf("matmul: operands must be at least 2D, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[len(aShape)-2], aShape[len(aShape)-1]
	kAlt, n := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch %v @ %v", aShape, bShape))
	}

	batchShape := aShape[:len(aShape)-2]
	shared := len(bShape) == 2
	if !shared && !tensor.Shape(batchShape).Equal(bShape[:len(bShape)-2]) {
		panic(fmt.Sprintf("matmul: batch dims differ %v @ %v", aShape, bShape))
	}

	outShape := append(tensor.Shape{}, batchShape...)
	outShape = append(outShape, m, n)
	result := newFloat32("matmul", outShape)

	aData, bData := float32Data(a), float32Data(b)
	dst := result.AsFloat32()
	batches := tensor.Shape(batchShape).NumElements()
	for batch := 0; batch < batches; batch++ {
		bOff := 0
		if !shared {
			bOff = batch * k * n
		}
		matmulFloat32(dst[batch*m*n:(batch+1)*m*n], aData[batch*m*k:(batch+1)*m*k], bData[bOff:bOff+k*n], m, k, n)
	}
	return result
}

// matmulFloat32 computes C = A @ B with the i-k-j loop order for cache
// friendly access to B rows.
func matmulFloat32(c, a, b []float32, m, k, n int) {
	for i := range c {
		c[i] = 0
	}
	for i := 0; i < m; i++ {
		row := c[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * bRow[j]
			}
		}
	}
}
