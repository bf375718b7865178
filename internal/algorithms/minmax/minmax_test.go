package minmax_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/algorithms/minmax"
	onnxbackend "github.com/born-ml/ptq/internal/backends/onnx"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

func TestAsymmetricParams(t *testing.T) {
	tests := []struct {
		name      string
		lo, hi    float32
		wantScale float32
		wantZP    int32
	}{
		{"positive range includes zero", 1, 2.55, 0.01, 0},
		{"negative range includes zero", -2.55, -1, 0.01, 255},
		{"mixed", -1, 1.55, 0.01, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := minmax.AsymmetricParams(tt.lo, tt.hi)
			assert.Equal(t, tensor.Uint8, p.DType)
			require.Len(t, p.Scale, 1)
			assert.InDelta(t, tt.wantScale, p.Scale[0], 1e-6)
			assert.Equal(t, []int32{tt.wantZP}, p.ZeroPoint)
			assert.False(t, p.PerChannel())
		})
	}

	constant := minmax.AsymmetricParams(0, 0)
	assert.Greater(t, constant.Scale[0], float32(0))
}

func TestSymmetricParams(t *testing.T) {
	p := minmax.SymmetricParams(0, 2.55)
	assert.Equal(t, tensor.Uint8, p.DType)
	assert.InDelta(t, 0.01, p.Scale[0], 1e-6)
	assert.Equal(t, []int32{0}, p.ZeroPoint)

	p = minmax.SymmetricParams(-2.54, 1)
	assert.Equal(t, tensor.Int8, p.DType)
	assert.InDelta(t, 0.02, p.Scale[0], 1e-6)
}

func TestWeightParams(t *testing.T) {
	p, err := minmax.WeightParams([]float32{-1.27, 0}, []float32{0.5, 2.54}, 0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Int8, p.DType)
	assert.InDeltaSlice(t, []float32{0.01, 0.02}, p.Scale, 1e-6)
	assert.Equal(t, []int32{0, 0}, p.ZeroPoint)
	assert.True(t, p.PerChannel())

	_, err = minmax.WeightParams([]float32{1}, nil, 0)
	assert.Error(t, err)
}

func conv(t *testing.T) *onnx.ModelProto {
	t.Helper()
	w, err := tensor.FromSlice(tensor.Shape{2, 1, 1, 1}, []float32{0.5, -1})
	require.NoError(t, err)
	b, err := tensor.FromSlice(tensor.Shape{2}, []float32{0, 0})
	require.NoError(t, err)
	return onnx.NewBuilder("conv").
		Input("x", 1, 1, 2, 2).
		Output("y").
		Initializer("w", w).
		Initializer("b", b).
		Node("Conv", "conv", []string{"x", "w", "b"}, []string{"c"}).
		Node("Relu", "relu", []string{"c"}, []string{"y"}).
		Build()
}

func register(t *testing.T, points *statistics.PointsContainer, values ...float32) {
	t.Helper()
	x, err := tensor.FromSlice(tensor.Shape{1, 1, 2, 2}, values)
	require.NoError(t, err)
	points.Each(func(p *statistics.StatisticPoint) {
		require.NoError(t, p.Collector.Register(x))
	})
}

func TestApply(t *testing.T) {
	model := conv(t)
	algo := minmax.New(onnxbackend.NewMinMaxBackend(), minmax.DefaultParams())

	points, err := algo.StatisticPoints(model)
	require.NoError(t, err)
	require.Equal(t, 1, points.Len())
	register(t, points, 0, 0.5, 1, 2.55)

	out, report, err := algo.Apply(context.Background(), model, points)
	require.NoError(t, err)
	require.Len(t, report.Nodes, 1)
	assert.True(t, report.Nodes[0].Activation)
	assert.True(t, report.Nodes[0].Weights)
	assert.Equal(t, 2, report.Quantizers())

	quantized := out.(*onnx.ModelProto)
	assert.Len(t, quantized.Graph.Nodes, 6)
	assert.Len(t, model.Graph.Nodes, 2)

	og, err := onnx.NewGraph(quantized)
	require.NoError(t, err)
	scale, err := og.InitializerValue("conv_operation_with_weights_1/scale")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, scale.Shape())
	assert.InDeltaSlice(t, []float32{0.5 / 127, 1.0 / 127}, scale.Float32s(), 1e-7)

	actScale, err := og.InitializerValue("conv_pre_layer_operation_0/scale")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, actScale.Float32s()[0], 1e-6)

	// A second pass leaves the now quantized node alone.
	again, err := algo.StatisticPoints(quantized)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
	_, report, err = algo.Apply(context.Background(), quantized, again)
	require.NoError(t, err)
	require.Len(t, report.Nodes, 1)
	assert.Equal(t, "weights already quantized", report.Nodes[0].Skipped)
}

func TestApplyPerTensorWeights(t *testing.T) {
	model := conv(t)
	params := minmax.DefaultParams()
	params.PerChannelWeights = false
	algo := minmax.New(onnxbackend.NewMinMaxBackend(), params)

	points, err := algo.StatisticPoints(model)
	require.NoError(t, err)
	register(t, points, -1, 0, 1, 2)

	out, _, err := algo.Apply(context.Background(), model, points)
	require.NoError(t, err)
	og, err := onnx.NewGraph(out.(*onnx.ModelProto))
	require.NoError(t, err)
	scale, err := og.InitializerValue("conv_operation_with_weights_1/scale")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{}, scale.Shape())
	dq, ok := og.NodeByName("DequantizeLinear_conv_operation_with_weights_1")
	require.True(t, ok)
	assert.Nil(t, dq.Attribute("axis"))
}

func TestApplyIgnoredNames(t *testing.T) {
	model := conv(t)
	params := minmax.DefaultParams()
	params.IgnoredNames = []string{"conv"}
	algo := minmax.New(onnxbackend.NewMinMaxBackend(), params)

	points, err := algo.StatisticPoints(model)
	require.NoError(t, err)
	assert.Equal(t, 0, points.Len())

	out, report, err := algo.Apply(context.Background(), model, points)
	require.NoError(t, err)
	assert.Same(t, model, out)
	assert.Equal(t, "ignored", report.Nodes[0].Skipped)
}

func TestApplyWithoutStatistics(t *testing.T) {
	model := conv(t)
	algo := minmax.New(onnxbackend.NewMinMaxBackend(), minmax.DefaultParams())

	_, _, err := algo.Apply(context.Background(), model, statistics.NewPointsContainer())
	assert.ErrorIs(t, err, statistics.ErrNoData)

	points, err := algo.StatisticPoints(model)
	require.NoError(t, err)
	_, _, err = algo.Apply(context.Background(), model, points)
	assert.ErrorIs(t, err, statistics.ErrNoData)
}

func TestWeightChannelAxis(t *testing.T) {
	backend := onnxbackend.NewMinMaxBackend()
	w, err := tensor.FromSlice(tensor.Shape{3, 2}, make([]float32, 6))
	require.NoError(t, err)
	model := onnx.NewBuilder("gemm").
		Input("x", 1, 2).
		Output("y").
		Initializer("w", w).
		Node("Gemm", "gemm_t", []string{"x", "w"}, []string{"y"}, onnx.IntAttr("transB", 1)).
		Node("Gemm", "gemm", []string{"x", "w"}, []string{"z"}).
		Build()
	g, err := backend.NewGraph(model)
	require.NoError(t, err)

	transposed, _ := g.NodeByName("gemm_t")
	axis, err := backend.WeightChannelAxis(model, transposed)
	require.NoError(t, err)
	assert.Equal(t, 0, axis)

	plain, _ := g.NodeByName("gemm")
	axis, err = backend.WeightChannelAxis(model, plain)
	require.NoError(t, err)
	assert.Equal(t, -1, axis)

	tp, err := backend.TargetPoint(transform.OperationWithWeights, "gemm", backend.WeightPortID(plain))
	require.NoError(t, err)
	assert.Equal(t, 1, tp.PortID)
}
