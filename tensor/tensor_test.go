package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/tensor"
)

func TestFromSlice(t *testing.T) {
	x, err := tensor.FromSlice(tensor.Shape{1, 3}, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, x.DType())
	assert.Equal(t, tensor.Shape{1, 3}, x.Shape())
}

func TestZeros(t *testing.T) {
	x, err := tensor.Zeros(tensor.Shape{2, 2}, tensor.Uint8)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 0, 0}, x.AsUint8())

	_, err = tensor.Zeros(tensor.Shape{0}, tensor.Float32)
	assert.Error(t, err)
}
