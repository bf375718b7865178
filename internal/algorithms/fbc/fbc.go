// Package fbc implements fast bias correction.
//
// For every bias-bearing node with quantized weights, the node's sub-model is
// run on a blob built from the float model's mean input activation. The
// difference between the float model's mean output and the quantized
// sub-model's mean output is added to the bias when it is significant.
package fbc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// AlgorithmName tags the statistic points owned by fast bias correction.
const AlgorithmName = "fast_bias_correction"

// Default parameter values.
const (
	DefaultThreshold  = 0.01
	DefaultNumSamples = 100
)

// Params configure the algorithm.
type Params struct {
	// Threshold is the minimum max|shift| / max|bias| for a correction.
	Threshold float64
	// NumSamples caps calibration samples per collector; 0 is unbounded.
	NumSamples int
	// ApplyToAllNodes corrects every candidate regardless of Threshold.
	ApplyToAllNodes bool
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{Threshold: DefaultThreshold, NumSamples: DefaultNumSamples}
}

// Algorithm is fast bias correction bound to one backend.
type Algorithm struct {
	backend Backend
	params  Params
}

// New creates the algorithm.
func New(backend Backend, params Params) *Algorithm {
	return &Algorithm{backend: backend, params: params}
}

// Params returns the algorithm parameters.
func (a *Algorithm) Params() Params {
	return a.params
}

// StatisticPoints returns, for every bias-bearing node, a mean collector on
// its input activation and one on its output activation, both keeping the
// channel axis.
func (a *Algorithm) StatisticPoints(model any) (*statistics.PointsContainer, error) {
	g, err := a.backend.NewGraph(model)
	if err != nil {
		return nil, err
	}

	container := statistics.NewPointsContainer()
	for _, node := range g.NodesByMetatypes(a.backend.LayersWithBiasMetatypes()...) {
		axis, ok := a.backend.ChannelAxisByTypes()[node.NodeType]
		if !ok {
			continue
		}
		in, out := a.backend.ActivationPortIDs(model, node)
		pre, err := a.backend.TargetPoint(transform.PreLayerOperation, node.Name, in)
		if err != nil {
			return nil, err
		}
		post, err := a.backend.TargetPoint(transform.PostLayerOperation, node.Name, out)
		if err != nil {
			return nil, err
		}
		for _, tp := range []transform.TargetPoint{pre, post} {
			container.Add(&statistics.StatisticPoint{
				Target:    tp,
				Algorithm: AlgorithmName,
				Collector: a.backend.MeanStatisticCollector(statistics.ReductionShape{axis}, a.params.NumSamples, 0),
			})
		}
	}
	return container, nil
}

// errSkip marks a per-node failure: the node is reported and left alone.
type errSkip struct {
	reason string
	err    error
}

func (e *errSkip) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *errSkip) Unwrap() error { return e.err }

func skip(reason string, err error) error {
	return &errSkip{reason: reason, err: err}
}

// Apply computes bias corrections for model using the float statistics in
// points and applies them in one transformation. Structural errors abort the
// call and no correction is applied.
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

	threshold := a.params.Threshold
	if a.params.ApplyToAllNodes {
		threshold = 0
	}
	report := &Report{Threshold: a.params.Threshold}
	layout := transform.NewLayout()

	for _, node := range g.NodesByMetatypes(a.backend.LayersWithBiasMetatypes()...) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		result := NodeResult{Node: node.Name, NodeType: node.NodeType}
		cmd, err := a.correctNode(ctx, model, transformer, node, points, threshold, &result)
		var skipped *errSkip
		switch {
		case errors.As(err, &skipped):
			result.Skipped = skipped.Error()
			log.Warn("skipping node", "node", node.Name, "reason", result.Skipped)
		case err != nil:
			return nil, nil, fmt.Errorf("node %s: %w", node.Name, err)
		case cmd != nil:
			layout.Register(cmd)
			log.Debug("bias corrected", "node", node.Name, "magnitude", float64(result.Magnitude))
		default:
			log.Debug("bias kept", "node", node.Name, "magnitude", float64(result.Magnitude), "threshold", threshold)
		}
		report.Nodes = append(report.Nodes, result)
	}

	log.Info("fast bias correction done", "candidates", len(report.Nodes), "corrected", layout.Len())
	if layout.Len() == 0 {
		return model, report, nil
	}
	corrected, err := transformer.Transform(layout)
	if err != nil {
		return nil, nil, fmt.Errorf("apply bias corrections: %w", err)
	}
	return corrected, report, nil
}

// correctNode returns the node's correction command, nil when the shift is
// below the threshold, or an *errSkip for per-node failures.
func (a *Algorithm) correctNode(ctx context.Context, model any, transformer transform.ModelTransformer,
	node *graph.Node, points *statistics.PointsContainer, threshold float64, result *NodeResult,
) (*transform.BiasCorrectionCommand, error) {
	quantized, err := a.backend.IsQuantizedWeights(node, model)
	var ce *graph.ClassificationError
	switch {
	case errors.As(err, &ce):
		return nil, skip("unclassified weight producer", err)
	case err != nil:
		return nil, err
	case !quantized:
		return nil, skip("weights are not quantized", nil)
	}

	channelAxis, ok := a.backend.ChannelAxisByTypes()[node.NodeType]
	if !ok {
		return nil, skip("no channel axis for "+node.NodeType, nil)
	}

	bias, err := a.backend.BiasValue(model, node)
	var bnf *algorithms.BiasNotFoundError
	switch {
	case errors.As(err, &bnf):
		return nil, skip("bias not found", err)
	case err != nil:
		return nil, err
	}

	inputs, outputs, err := a.backend.TensorNames(node)
	if err != nil {
		return nil, skip("no tensor names", err)
	}
	inPort, outPort := a.backend.ActivationPortIDs(model, node)
	if inPort >= len(inputs) || outPort >= len(outputs) {
		return nil, skip("activation ports not connected", nil)
	}

	inStat, err := a.meanStatistic(points, transform.PreLayerOperation, node.Name, inPort)
	if err != nil {
		return nil, err
	}
	outStat, err := a.meanStatistic(points, transform.PostLayerOperation, node.Name, outPort)
	if err != nil {
		return nil, err
	}

	qMean, err := a.quantizedOutputMean(ctx, transformer, inputs[inPort], outputs[outPort], inStat, channelAxis)
	if err != nil {
		return nil, err
	}
	if len(qMean) != len(outStat.Mean) || len(qMean) != bias.NumElements() {
		return nil, skip(fmt.Sprintf("channel mismatch: bias %d, float output %d, quantized output %d",
			bias.NumElements(), len(outStat.Mean), len(qMean)), nil)
	}

	current := bias.Float32s()
	shift := make([]float32, len(current))
	updated := make([]float32, len(current))
	for i := range shift {
		shift[i] = outStat.Mean[i] - qMean[i]
		updated[i] = current[i] + shift[i]
	}

	result.Magnitude = Ratio(ShiftMagnitude(current, shift))
	if !ShouldApply(current, shift, threshold) {
		return nil, nil
	}

	updatedBias, err := tensor.FromSlice(bias.Shape(), updated)
	if err != nil {
		return nil, err
	}
	tp, err := a.backend.TargetPoint(transform.OperationWithBias, node.Name, a.backend.BiasPortID(model, node))
	if err != nil {
		return nil, err
	}
	cmd, err := a.backend.BiasCorrectionCommand(tp, updatedBias, threshold)
	if err != nil {
		return nil, err
	}
	result.Applied = true
	return cmd, nil
}

func (a *Algorithm) meanStatistic(points *statistics.PointsContainer, tt transform.TargetType, nodeName string, port int) (*statistics.MeanStatistic, error) {
	tp, err := a.backend.TargetPoint(tt, nodeName, port)
	if err != nil {
		return nil, err
	}
	point, ok := points.Find(tp, AlgorithmName)
	if !ok {
		return nil, fmt.Errorf("no statistic point at %s: %w", tp, statistics.ErrNoData)
	}
	collector, ok := point.Collector.(*statistics.MeanCollector)
	if !ok {
		return nil, fmt.Errorf("statistic point %s holds %T, want a mean collector", tp, point.Collector)
	}
	stat, err := collector.Statistic()
	if err != nil {
		return nil, fmt.Errorf("statistic at %s: %w", tp, err)
	}
	return stat, nil
}

// quantizedOutputMean runs the node's extracted sub-model on the mean input
// blob and returns the per-channel mean of its output.
func (a *Algorithm) quantizedOutputMean(ctx context.Context, transformer transform.ModelTransformer,
	inputName, outputName string, inStat *statistics.MeanStatistic, channelAxis int,
) ([]float32, error) {
	layout := transform.NewLayout()
	layout.Register(a.backend.ModelExtractionCommand([]string{inputName}, []string{outputName}))
	sub, err := transformer.Transform(layout)
	var ee *transform.ExtractionError
	switch {
	case errors.As(err, &ee):
		return nil, skip("sub-model extraction failed", err)
	case err != nil:
		return nil, err
	}

	blob, err := a.backend.CreateBlob(inStat.Shape, inStat.Mean, channelAxis)
	if err != nil {
		return nil, err
	}
	eng, err := a.backend.NewEngine(sub)
	if err != nil {
		return nil, skip("sub-model not runnable", err)
	}
	names := eng.InputNames()
	if len(names) != 1 {
		return nil, skip(fmt.Sprintf("sub-model has %d inputs", len(names)), nil)
	}
	raw, err := eng.Infer(ctx, map[string]*tensor.RawTensor{names[0]: blob})
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, skip("sub-model inference failed", err)
	}

	out, err := a.backend.ProcessModelOutput(raw, outputName)
	if err != nil {
		return nil, skip("sub-model output missing", err)
	}
	mean, err := a.backend.TensorProcessor().ReduceMean(out, statistics.ReductionShape{channelAxis})
	if err != nil {
		return nil, skip("sub-model output reduction failed", err)
	}
	return mean.Float32s(), nil
}

// ShiftMagnitude returns max|shift| / max|bias|. A zero bias gives +Inf for
// a non-zero shift and 0 otherwise.
func ShiftMagnitude(bias, shift []float32) float64 {
	var maxBias, maxShift float64
	for _, b := range bias {
		maxBias = math.Max(maxBias, math.Abs(float64(b)))
	}
	for _, s := range shift {
		maxShift = math.Max(maxShift, math.Abs(float64(s)))
	}
	if maxBias == 0 {
		if maxShift == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return maxShift / maxBias
}

// ShouldApply reports whether a shift is significant under threshold.
func ShouldApply(bias, shift []float32, threshold float64) bool {
	return ShiftMagnitude(bias, shift) > threshold
}
