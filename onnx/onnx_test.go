package onnx_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalonnx "github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/onnx"
	"github.com/born-ml/ptq/tensor"
)

func reluModel() *onnx.Model {
	return internalonnx.NewBuilder("relu").
		Input("x", 1, 3).
		Output("y", 1, 3).
		Node("Relu", "relu", []string{"x"}, []string{"y"}).
		Build()
}

func TestSaveLoadRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relu.onnx")
	require.NoError(t, onnx.Save(path, reluModel()))

	model, err := onnx.Load(path)
	require.NoError(t, err)

	x, err := tensor.FromSlice(tensor.Shape{1, 3}, []float32{-1, 0, 2})
	require.NoError(t, err)
	out, err := onnx.Run(context.Background(), model, map[string]*tensor.RawTensor{"x": x})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2}, out["y"].AsFloat32())
}

func TestLoadFromBytes(t *testing.T) {
	model, err := onnx.LoadFromBytes(onnx.Marshal(reluModel()))
	require.NoError(t, err)
	assert.Len(t, model.Graph.Nodes, 1)

	_, err = onnx.LoadFromBytes([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestListSupportedOps(t *testing.T) {
	ops := onnx.ListSupportedOps()
	assert.Contains(t, ops, "Conv")
	assert.Contains(t, ops, "QuantizeLinear")
	assert.IsIncreasing(t, ops)
}
