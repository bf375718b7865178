package fbc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/engine"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

var (
	convMT  = &graph.Metatype{Name: "conv", OpNames: []string{"Conv"}, Category: graph.CategoryConvolution, HasWeights: true}
	reluMT  = &graph.Metatype{Name: "relu", OpNames: []string{"Relu"}, Category: graph.CategoryActivation}
	fakeReg = graph.NewMetatypeRegistry("fake").MustRegister(convMT, reluMT)
)

// fakeModel describes per-node behaviour of the fake backend.
type fakeModel struct {
	nodes     []string
	bias      map[string][]float32
	quantized map[string]bool
	// quantOut is the per-channel output of each node's quantized sub-model.
	quantOut map[string][]float32
}

type fakeSubModel struct {
	model  *fakeModel
	output string
}

type fakeTransformer struct {
	model       *fakeModel
	corrections []*transform.BiasCorrectionCommand
	calls       int
}

func (f *fakeTransformer) Transform(layout *transform.TransformationLayout) (any, error) {
	if ext := layout.ByType(transform.ExtractModel); len(ext) == 1 {
		cmd := ext[0].(*transform.ModelExtractionCommand)
		return &fakeSubModel{model: f.model, output: cmd.Outputs[0]}, nil
	}
	f.calls++
	for _, c := range layout.ByType(transform.CorrectBias) {
		f.corrections = append(f.corrections, c.(*transform.BiasCorrectionCommand))
	}
	return "corrected", nil
}

type fakeEngine struct {
	sub *fakeSubModel
}

func (e *fakeEngine) InputNames() []string { return []string{"in"} }

func (e *fakeEngine) Infer(_ context.Context, _ map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	node := e.sub.output[:len(e.sub.output)-len(":out")]
	values := e.sub.model.quantOut[node]
	out, err := tensor.FromSlice(tensor.Shape{1, len(values)}, values)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.RawTensor{e.sub.output: out}, nil
}

type reduceProcessor struct{}

func (reduceProcessor) ReduceMean(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMean)
}

func (reduceProcessor) ReduceMin(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMin)
}

func (reduceProcessor) ReduceMax(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMax)
}

type fakeBackend struct {
	transformer *fakeTransformer
	targets     []transform.TargetType
}

func newFakeBackend(m *fakeModel) *fakeBackend {
	return &fakeBackend{
		transformer: &fakeTransformer{model: m},
		targets: []transform.TargetType{
			transform.PreLayerOperation, transform.PostLayerOperation, transform.OperationWithBias,
		},
	}
}

func (b *fakeBackend) OperationMetatypes() *graph.MetatypeRegistry    { return fakeReg }
func (b *fakeBackend) LayersWithBiasMetatypes() []*graph.Metatype     { return []*graph.Metatype{convMT} }
func (b *fakeBackend) ChannelAxisByTypes() map[string]int             { return map[string]int{"Conv": 1} }
func (b *fakeBackend) TensorProcessor() statistics.TensorProcessor    { return reduceProcessor{} }
func (b *fakeBackend) WrapTensor(raw *tensor.RawTensor) tensor.Tensor { return raw }

func (b *fakeBackend) ModelTransformer(any) (transform.ModelTransformer, error) {
	return b.transformer, nil
}

func (b *fakeBackend) TargetPoint(tt transform.TargetType, name string, port int) (transform.TargetPoint, error) {
	return transform.NewTargetPoint(tt, name, port, b.targets...)
}

func (b *fakeBackend) BiasCorrectionCommand(tp transform.TargetPoint, bias *tensor.RawTensor, threshold float64) (*transform.BiasCorrectionCommand, error) {
	return &transform.BiasCorrectionCommand{Target: tp, Bias: bias, Threshold: threshold}, nil
}

func (b *fakeBackend) ModelExtractionCommand(inputs, outputs []string) *transform.ModelExtractionCommand {
	return &transform.ModelExtractionCommand{Inputs: inputs, Outputs: outputs}
}

func (b *fakeBackend) MeanStatisticCollector(r statistics.ReductionShape, n, w int) *statistics.MeanCollector {
	return statistics.NewMeanCollector(reduceProcessor{}, r, n, w)
}

func (b *fakeBackend) TensorNames(node *graph.Node) ([]string, []string, error) {
	return []string{node.Name + ":in", node.Name + ":w", node.Name + ":b"}, []string{node.Name + ":out"}, nil
}

func (b *fakeBackend) CreateBlob(shape tensor.Shape, data []float32, _ int) (*tensor.RawTensor, error) {
	return tensor.FromSlice(shape, data)
}

func (b *fakeBackend) BiasValue(model any, node *graph.Node) (*tensor.RawTensor, error) {
	bias, ok := model.(*fakeModel).bias[node.Name]
	if !ok {
		return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: "no constant"}
	}
	return tensor.FromSlice(tensor.Shape{len(bias)}, bias)
}

func (b *fakeBackend) ActivationPortIDs(any, *graph.Node) (int, int) { return 0, 0 }
func (b *fakeBackend) BiasPortID(any, *graph.Node) int               { return 2 }

func (b *fakeBackend) ProcessModelOutput(outputs map[string]*tensor.RawTensor, name string) (tensor.Tensor, error) {
	out, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("no output %s", name)
	}
	return out, nil
}

func (b *fakeBackend) IsQuantizedWeights(node *graph.Node, model any) (bool, error) {
	return model.(*fakeModel).quantized[node.Name], nil
}

func (b *fakeBackend) NewEngine(model any) (engine.Engine, error) {
	return &fakeEngine{sub: model.(*fakeSubModel)}, nil
}

func (b *fakeBackend) NewGraph(model any) (*graph.Graph, error) {
	g := graph.New()
	for _, name := range model.(*fakeModel).nodes {
		if _, err := g.AddNode(name, "Conv", convMT, &graph.GenericLayerAttributes{}); err != nil {
			return nil, err
		}
	}
	if _, err := g.AddNode("relu", "Relu", reluMT, nil); err != nil {
		return nil, err
	}
	return g, nil
}

func row(t *testing.T, values ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(tensor.Shape{1, len(values)}, values)
	require.NoError(t, err)
	return r
}

// calibrate feeds one float input and output observation per node.
func calibrate(t *testing.T, points *statistics.PointsContainer, fpIn, fpOut map[string][]float32) {
	t.Helper()
	points.Each(func(p *statistics.StatisticPoint) {
		switch p.Target.Type {
		case transform.PreLayerOperation:
			require.NoError(t, p.Collector.Register(row(t, fpIn[p.Target.NodeName]...)))
		case transform.PostLayerOperation:
			require.NoError(t, p.Collector.Register(row(t, fpOut[p.Target.NodeName]...)))
		}
	})
}

func TestStatisticPoints(t *testing.T) {
	m := &fakeModel{nodes: []string{"conv1", "conv2"}}
	points, err := New(newFakeBackend(m), DefaultParams()).StatisticPoints(m)
	require.NoError(t, err)

	assert.Equal(t, 4, points.Len())
	assert.Equal(t, []transform.TargetPoint{
		{Type: transform.PreLayerOperation, NodeName: "conv1", PortID: 0},
		{Type: transform.PostLayerOperation, NodeName: "conv1", PortID: 0},
		{Type: transform.PreLayerOperation, NodeName: "conv2", PortID: 0},
		{Type: transform.PostLayerOperation, NodeName: "conv2", PortID: 0},
	}, points.Targets())

	p, ok := points.Find(points.Targets()[0], AlgorithmName)
	require.True(t, ok)
	assert.Equal(t, statistics.ReductionShape{1}, p.Collector.(*statistics.MeanCollector).ReductionShape())
}

func TestThresholdGating(t *testing.T) {
	m := &fakeModel{
		nodes:     []string{"small", "large"},
		bias:      map[string][]float32{"small": {1, 1}, "large": {1, 1}},
		quantized: map[string]bool{"small": true, "large": true},
		quantOut:  map[string][]float32{"small": {0, 0}, "large": {0, 0}},
	}
	backend := newFakeBackend(m)
	algo := New(backend, Params{Threshold: 0.01})

	points, err := algo.StatisticPoints(m)
	require.NoError(t, err)
	calibrate(t, points,
		map[string][]float32{"small": {1, 1}, "large": {1, 1}},
		map[string][]float32{"small": {0.001, 0.001}, "large": {0.02, 0}})

	out, report, err := algo.Apply(context.Background(), m, points)
	require.NoError(t, err)
	assert.Equal(t, "corrected", out)
	assert.Equal(t, 1, report.Applied())

	require.Len(t, backend.transformer.corrections, 1)
	cmd := backend.transformer.corrections[0]
	assert.Equal(t, transform.TargetPoint{Type: transform.OperationWithBias, NodeName: "large", PortID: 2}, cmd.Target)
	assert.InDeltaSlice(t, []float32{1.02, 1.0}, cmd.Bias.AsFloat32(), 1e-6)
	assert.Equal(t, 0.01, cmd.Threshold)

	assert.False(t, report.Nodes[0].Applied)
	assert.InDelta(t, 0.001, float64(report.Nodes[0].Magnitude), 1e-6)
	assert.True(t, report.Nodes[1].Applied)
}

func TestApplyToAllNodesDisablesGate(t *testing.T) {
	m := &fakeModel{
		nodes:     []string{"small"},
		bias:      map[string][]float32{"small": {1, 1}},
		quantized: map[string]bool{"small": true},
		quantOut:  map[string][]float32{"small": {0, 0}},
	}
	backend := newFakeBackend(m)
	algo := New(backend, Params{Threshold: 0.01, ApplyToAllNodes: true})
	points, err := algo.StatisticPoints(m)
	require.NoError(t, err)
	calibrate(t, points, map[string][]float32{"small": {1, 1}}, map[string][]float32{"small": {0.001, 0.001}})

	_, report, err := algo.Apply(context.Background(), m, points)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied())
	require.Len(t, backend.transformer.corrections, 1)
	assert.Zero(t, backend.transformer.corrections[0].Threshold)
}

func TestPerNodeFailuresSkip(t *testing.T) {
	m := &fakeModel{
		nodes:     []string{"nobias", "float", "good"},
		bias:      map[string][]float32{"float": {1}, "good": {1}},
		quantized: map[string]bool{"nobias": true, "good": true},
		quantOut:  map[string][]float32{"nobias": {0}, "float": {0}, "good": {0}},
	}
	backend := newFakeBackend(m)
	algo := New(backend, DefaultParams())
	points, err := algo.StatisticPoints(m)
	require.NoError(t, err)
	calibrate(t, points,
		map[string][]float32{"nobias": {1}, "float": {1}, "good": {1}},
		map[string][]float32{"nobias": {1}, "float": {1}, "good": {1}})

	_, report, err := algo.Apply(context.Background(), m, points)
	require.NoError(t, err)
	require.Len(t, report.Nodes, 3)
	assert.Contains(t, report.Nodes[0].Skipped, "bias not found")
	assert.Equal(t, "weights are not quantized", report.Nodes[1].Skipped)
	assert.True(t, report.Nodes[2].Applied)
	assert.Equal(t, 2, report.Skipped())
	require.Len(t, backend.transformer.corrections, 1)
	assert.Equal(t, []float32{2}, backend.transformer.corrections[0].Bias.AsFloat32())
}

func TestNoDataAborts(t *testing.T) {
	m := &fakeModel{
		nodes:     []string{"a", "b"},
		bias:      map[string][]float32{"a": {1}, "b": {1}},
		quantized: map[string]bool{"a": true, "b": true},
		quantOut:  map[string][]float32{"a": {0}, "b": {0}},
	}
	backend := newFakeBackend(m)
	algo := New(backend, DefaultParams())
	points, err := algo.StatisticPoints(m)
	require.NoError(t, err)
	// Only node a gets calibration data.
	points.Each(func(p *statistics.StatisticPoint) {
		if p.Target.NodeName == "a" {
			require.NoError(t, p.Collector.Register(row(t, 5)))
		}
	})

	_, _, err = algo.Apply(context.Background(), m, points)
	assert.ErrorIs(t, err, statistics.ErrNoData)
	assert.Zero(t, backend.transformer.calls, "no partial corrections")
}

func TestInvalidTargetAborts(t *testing.T) {
	m := &fakeModel{
		nodes:     []string{"a"},
		bias:      map[string][]float32{"a": {1}},
		quantized: map[string]bool{"a": true},
		quantOut:  map[string][]float32{"a": {0}},
	}
	backend := newFakeBackend(m)
	algo := New(backend, DefaultParams())
	points, err := algo.StatisticPoints(m)
	require.NoError(t, err)
	calibrate(t, points, map[string][]float32{"a": {1}}, map[string][]float32{"a": {1}})

	backend.targets = []transform.TargetType{transform.PreLayerOperation, transform.PostLayerOperation}
	_, _, err = algo.Apply(context.Background(), m, points)
	var ite *transform.InvalidTargetError
	require.True(t, errors.As(err, &ite))
	assert.Zero(t, backend.transformer.calls)
}

func TestCancelledContext(t *testing.T) {
	m := &fakeModel{nodes: []string{"a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(newFakeBackend(m), DefaultParams()).Apply(ctx, m, statistics.NewPointsContainer())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShiftMagnitude(t *testing.T) {
	tests := []struct {
		name  string
		bias  []float32
		shift []float32
		want  float64
	}{
		{"below threshold", []float32{1, 1}, []float32{0.001, 0.001}, 0.001},
		{"one channel", []float32{1, 1}, []float32{0.02, 0}, 0.02},
		{"negative values", []float32{-2, 1}, []float32{0, -0.5}, 0.25},
		{"zero bias, zero shift", []float32{0, 0}, []float32{0, 0}, 0},
		{"zero bias", []float32{0, 0}, []float32{0.1, 0}, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShiftMagnitude(tt.bias, tt.shift)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
	assert.False(t, ShouldApply([]float32{1, 1}, []float32{0.001, 0.001}, 0.01))
	assert.True(t, ShouldApply([]float32{1, 1}, []float32{0.02, 0}, 0.01))
}

func TestRatioMarshalJSON(t *testing.T) {
	b, err := Ratio(math.Inf(1)).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"inf"`, string(b))
	b, err = Ratio(0.25).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "0.25", string(b))
}
