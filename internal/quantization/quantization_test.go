package quantization

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/config"
	"github.com/born-ml/ptq/internal/dataset"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
)

func raw(t *testing.T, shape tensor.Shape, values []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(shape, values)
	require.NoError(t, err)
	return r
}

// convGemmModel is a small classifier: Conv -> Relu -> GlobalAveragePool ->
// Flatten -> Gemm. Nodes are unnamed, as exporters often leave them.
func convGemmModel(t *testing.T) *onnx.ModelProto {
	t.Helper()
	return onnx.NewBuilder("classifier").
		Input("x", 1, 3, 6, 6).
		Output("y", 1, 4).
		Initializer("conv.w", raw(t, tensor.Shape{4, 3, 3, 3}, ramp(4*3*3*3, 0.05))).
		Initializer("conv.b", raw(t, tensor.Shape{4}, []float32{0.2, -0.1, 0.05, 0})).
		Initializer("fc.w", raw(t, tensor.Shape{4, 4}, ramp(16, 0.1))).
		Initializer("fc.b", raw(t, tensor.Shape{4}, []float32{0.3, 0.1, -0.2, 0.4})).
		Node("Conv", "", []string{"x", "conv.w", "conv.b"}, []string{"c"}, onnx.IntsAttr("pads", 1, 1, 1, 1)).
		Node("Relu", "", []string{"c"}, []string{"r"}).
		Node("GlobalAveragePool", "", []string{"r"}, []string{"p"}).
		Node("Flatten", "", []string{"p"}, []string{"f"}).
		Node("Gemm", "", []string{"f", "fc.w", "fc.b"}, []string{"y"}, onnx.IntAttr("transB", 1)).
		Build()
}

// ramp returns n values cycling through [-1, 1) in steps of step.
func ramp(n int, step float32) []float32 {
	values := make([]float32, n)
	v := float32(-1)
	for i := range values {
		values[i] = v
		v += step
		if v >= 1 {
			v = -1
		}
	}
	return values
}

func quietContext() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func TestQuantizeEndToEnd(t *testing.T) {
	model := convGemmModel(t)
	before := onnx.Marshal(model)
	ds, err := RandomDataset(model, 8, 1)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SetApplyToAllNodes(true)
	out, report, err := Quantize(quietContext(), model, ds, cfg)
	require.NoError(t, err)
	assert.Equal(t, before, onnx.Marshal(model), "input model must not change")

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "onnx", report.Backend)
	assert.Equal(t, 8, report.Samples)

	require.NotNil(t, report.MinMax)
	assert.Equal(t, 4, report.MinMax.Quantizers())

	require.NotNil(t, report.FastBiasCorrection)
	require.Len(t, report.FastBiasCorrection.Nodes, 2)
	for _, n := range report.FastBiasCorrection.Nodes {
		assert.Empty(t, n.Skipped, n.Node)
		assert.GreaterOrEqual(t, float64(n.Magnitude), 0.0)
	}

	quantized := out.(*onnx.ModelProto)
	ops := map[string]int{}
	for _, n := range quantized.Graph.Nodes {
		ops[n.OpType]++
	}
	assert.Equal(t, 4, ops["QuantizeLinear"])
	assert.Equal(t, 4, ops["DequantizeLinear"])

	// The quantized model survives serialization and stays close to the
	// float model.
	reparsed, err := onnx.Parse(onnx.Marshal(quantized))
	require.NoError(t, err)
	sample, err := ds.Sample(0)
	require.NoError(t, err)
	floatOut := run(t, model, sample)
	quantOut := run(t, reparsed, sample)
	assert.InDeltaSlice(t, floatOut, quantOut, 0.25)

	encoded, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"fast_bias_correction"`)
}

func run(t *testing.T, model *onnx.ModelProto, sample dataset.Sample) []float32 {
	t.Helper()
	b, err := newBackends(algorithms.BackendONNX)
	require.NoError(t, err)
	eng, err := b.fbc.NewEngine(model)
	require.NoError(t, err)
	out, err := eng.Infer(context.Background(), sample)
	require.NoError(t, err)
	return out["y"].Float32s()
}

func TestQuantizeFastBiasCorrectionOnly(t *testing.T) {
	model := convGemmModel(t)
	ds, err := RandomDataset(model, 2, 3)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.MinMax.Enabled = new(bool)
	out, report, err := Quantize(quietContext(), model, ds, cfg)
	require.NoError(t, err)
	assert.Nil(t, report.MinMax)
	require.NotNil(t, report.FastBiasCorrection)
	for _, n := range report.FastBiasCorrection.Nodes {
		assert.Equal(t, "weights are not quantized", n.Skipped)
	}
	assert.Equal(t, 0, report.FastBiasCorrection.Applied())
	assert.Len(t, out.(*onnx.ModelProto).Graph.Nodes, 5)
}

func TestQuantizeErrors(t *testing.T) {
	model := convGemmModel(t)

	_, _, err := Quantize(quietContext(), "model.onnx", dataset.Slice{}, config.Default())
	assert.ErrorIs(t, err, algorithms.ErrUnsupportedBackend)

	cfg := config.Default()
	cfg.Backend = "torch_fx"
	_, _, err = Quantize(quietContext(), model, dataset.Slice{}, cfg)
	assert.Error(t, err)

	_, _, err = Quantize(quietContext(), model, dataset.Slice{}, config.Default())
	assert.ErrorIs(t, err, statistics.ErrNoData)

	cfg = config.Default()
	cfg.SetThreshold(-1)
	_, _, err = Quantize(quietContext(), model, dataset.Slice{}, cfg)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(quietContext())
	cancel()
	ds, err := RandomDataset(model, 1, 1)
	require.NoError(t, err)
	_, _, err = Quantize(ctx, model, ds, config.Default())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuantizeLogsRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.JSON(&buf, logger.ParseLevel("info")))
	model := convGemmModel(t)
	ds, err := RandomDataset(model, 1, 1)
	require.NoError(t, err)

	_, report, err := Quantize(ctx, model, ds, config.Default())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"run_id":"`+report.RunID+`"`)
}

func TestInspect(t *testing.T) {
	infos, err := Inspect(convGemmModel(t))
	require.NoError(t, err)
	require.Len(t, infos, 5)

	assert.Equal(t, "Conv_0", infos[0].Name)
	assert.Equal(t, "conv", infos[0].Metatype)
	assert.True(t, infos[0].HasBias)
	assert.True(t, infos[0].BiasCandidate)
	assert.False(t, infos[0].QuantizedWeights)

	assert.Equal(t, "Relu", infos[1].OpType)
	assert.False(t, infos[1].BiasCandidate)

	assert.Equal(t, "Gemm", infos[4].OpType)
	assert.True(t, infos[4].BiasCandidate)
}
