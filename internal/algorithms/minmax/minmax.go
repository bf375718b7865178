// Package minmax implements min-max post-training quantization.
//
// Every quantizable node gets a quantize/dequantize pair on its activation
// input, with a range taken from calibration statistics, and one on its
// constant weight, with a per-channel range computed from the weight itself.
package minmax

import (
	"context"
	"fmt"
	"slices"

	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/transform"
)

// AlgorithmName tags the statistic points owned by min-max quantization.
const AlgorithmName = "min_max"

// DefaultNumSamples caps calibration samples per collector.
const DefaultNumSamples = 100

// Params configure the algorithm.
type Params struct {
	NumSamples           int
	PerChannelWeights    bool
	SymmetricActivations bool
	// IgnoredNames are node names left in float precision.
	IgnoredNames []string
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{NumSamples: DefaultNumSamples, PerChannelWeights: true}
}

// NodeResult records the quantizers placed on one node.
type NodeResult struct {
	Node       string `json:"node"`
	NodeType   string `json:"node_type"`
	Activation bool   `json:"activation"`
	Weights    bool   `json:"weights"`
	Skipped    string `json:"skipped,omitempty"`
}

// Report summarizes one Apply call.
type Report struct {
	Nodes []NodeResult `json:"nodes"`
}

// Quantizers returns the number of inserted quantizer pairs.
func (r *Report) Quantizers() int {
	n := 0
	for _, res := range r.Nodes {
		if res.Activation {
			n++
		}
		if res.Weights {
			n++
		}
	}
	return n
}

// Algorithm is min-max quantization bound to one backend.
type Algorithm struct {
	backend Backend
	params  Params
}

// New creates the algorithm.
func New(backend Backend, params Params) *Algorithm {
	return &Algorithm{backend: backend, params: params}
}

// candidates returns the quantizable nodes that are neither ignored nor
// already quantized, plus results for the skipped ones.
func (a *Algorithm) candidates(model any, g *graph.Graph) ([]*graph.Node, []NodeResult, error) {
	var nodes []*graph.Node
	var skipped []NodeResult
	for _, node := range g.NodesByMetatypes(a.backend.QuantizableMetatypes()...) {
		if slices.Contains(a.params.IgnoredNames, node.Name) {
			skipped = append(skipped, NodeResult{Node: node.Name, NodeType: node.NodeType, Skipped: "ignored"})
			continue
		}
		quantized, err := a.backend.IsQuantizedWeights(node, model)
		if err != nil {
			return nil, nil, err
		}
		if quantized {
			skipped = append(skipped, NodeResult{Node: node.Name, NodeType: node.NodeType, Skipped: "weights already quantized"})
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, skipped, nil
}

// StatisticPoints returns a per-tensor min-max collector on the activation
// input of every candidate node.
func (a *Algorithm) StatisticPoints(model any) (*statistics.PointsContainer, error) {
	g, err := a.backend.NewGraph(model)
	if err != nil {
		return nil, err
	}
	nodes, _, err := a.candidates(model, g)
	if err != nil {
		return nil, err
	}
	container := statistics.NewPointsContainer()
	for _, node := range nodes {
		tp, err := a.backend.TargetPoint(transform.PreLayerOperation, node.Name, 0)
		if err != nil {
			return nil, err
		}
		container.Add(&statistics.StatisticPoint{
			Target:    tp,
			Algorithm: AlgorithmName,
			Collector: a.backend.MinMaxStatisticCollector(nil, a.params.NumSamples),
		})
	}
	return container, nil
}

// Apply inserts the quantizers in one transformation.
func (a *Algorithm) Apply(ctx context.Context, model any, points *statistics.PointsContainer) (any, *Report, error) {
	log := logger.FromContext(ctx).With("algorithm", AlgorithmName)

	g, err := a.backend.NewGraph(model)
	if err != nil {
		return nil, nil, err
	}
	transformer, err := a.backend.ModelTransformer(model)
	if err != nil {
		return nil, nil, err
	}
	nodes, skipped, err := a.candidates(model, g)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{Nodes: skipped}
	layout := transform.NewLayout()
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		result := NodeResult{Node: node.Name, NodeType: node.NodeType}

		cmd, err := a.activationQuantizer(node, points)
		if err != nil {
			return nil, nil, fmt.Errorf("node %s: %w", node.Name, err)
		}
		layout.Register(cmd)
		result.Activation = true

		if _, weighted := node.LayerAttributes.(*graph.WeightedLayerAttributes); weighted {
			cmd, err := a.weightQuantizer(model, node)
			if err != nil {
				return nil, nil, fmt.Errorf("node %s: %w", node.Name, err)
			}
			layout.Register(cmd)
			result.Weights = true
		}
		log.Debug("quantizers placed", "node", node.Name, "weights", result.Weights)
		report.Nodes = append(report.Nodes, result)
	}

	log.Info("min-max quantization done", "nodes", len(nodes), "quantizers", layout.Len())
	if layout.Len() == 0 {
		return model, report, nil
	}
	quantized, err := transformer.Transform(layout)
	if err != nil {
		return nil, nil, fmt.Errorf("insert quantizers: %w", err)
	}
	return quantized, report, nil
}

func (a *Algorithm) activationQuantizer(node *graph.Node, points *statistics.PointsContainer) (*transform.QuantizerInsertionCommand, error) {
	tp, err := a.backend.TargetPoint(transform.PreLayerOperation, node.Name, 0)
	if err != nil {
		return nil, err
	}
	point, ok := points.Find(tp, AlgorithmName)
	if !ok {
		return nil, fmt.Errorf("no statistic point at %s: %w", tp, statistics.ErrNoData)
	}
	collector, ok := point.Collector.(*statistics.MinMaxCollector)
	if !ok {
		return nil, fmt.Errorf("statistic point %s holds %T, want a min-max collector", tp, point.Collector)
	}
	stat, err := collector.Statistic()
	if err != nil {
		return nil, fmt.Errorf("statistic at %s: %w", tp, err)
	}
	if len(stat.Min) != 1 {
		return nil, fmt.Errorf("statistic at %s has %d values, want a per-tensor range", tp, len(stat.Min))
	}

	params := AsymmetricParams(stat.Min[0], stat.Max[0])
	if a.params.SymmetricActivations {
		params = SymmetricParams(stat.Min[0], stat.Max[0])
	}
	return a.backend.QuantizerInsertionCommand(tp, params)
}

func (a *Algorithm) weightQuantizer(model any, node *graph.Node) (*transform.QuantizerInsertionCommand, error) {
	weight, err := a.backend.WeightValue(model, node)
	if err != nil {
		return nil, err
	}
	var reduction statistics.ReductionShape
	axis := 0
	if a.params.PerChannelWeights {
		axis, err = a.backend.WeightChannelAxis(model, node)
		if err != nil {
			return nil, err
		}
		reduction = statistics.ReductionShape{axis}
	}

	collector := a.backend.MinMaxStatisticCollector(reduction, 0)
	if err := collector.Register(weight); err != nil {
		return nil, fmt.Errorf("weight range: %w", err)
	}
	stat, err := collector.Statistic()
	if err != nil {
		return nil, fmt.Errorf("weight range: %w", err)
	}
	params, err := WeightParams(stat.Min, stat.Max, axis)
	if err != nil {
		return nil, err
	}

	tp, err := a.backend.TargetPoint(transform.OperationWithWeights, node.Name, a.backend.WeightPortID(node))
	if err != nil {
		return nil, err
	}
	return a.backend.QuantizerInsertionCommand(tp, params)
}
