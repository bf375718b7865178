// Package aggregator feeds calibration data through a model and registers
// the observed tensors into statistic collectors.
package aggregator

import (
	"context"
	"fmt"

	"github.com/born-ml/ptq/internal/dataset"
	"github.com/born-ml/ptq/internal/engine"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// Backend adapts aggregation to one model representation.
type Backend interface {
	ModelTransformer(model any) (transform.ModelTransformer, error)
	OutputInsertionCommand(tp transform.TargetPoint) *transform.OutputInsertionCommand
	// TargetTensorName resolves the tensor observed at tp.
	TargetTensorName(model any, tp transform.TargetPoint) (string, error)
	NewEngine(model any) (engine.Engine, error)
	ProcessModelOutput(outputs map[string]*tensor.RawTensor, name string) (tensor.Tensor, error)
}

// Aggregator collects statistics for a set of points.
type Aggregator struct {
	backend Backend
	// subsetSize bounds the samples read; 0 reads the whole dataset.
	subsetSize int
}

// New creates an aggregator reading at most subsetSize samples.
func New(backend Backend, subsetSize int) *Aggregator {
	return &Aggregator{backend: backend, subsetSize: subsetSize}
}

// Collect exposes every target of points as a model output, runs the model
// on the dataset and registers each observed tensor into the collectors at
// its target. It stops early once every collector is full.
func (a *Aggregator) Collect(ctx context.Context, model any, ds dataset.Dataset, points *statistics.PointsContainer) error {
	log := logger.FromContext(ctx)
	targets := points.Targets()
	if len(targets) == 0 {
		return nil
	}

	layout := transform.NewLayout()
	outputNames := make(map[transform.TargetPoint]string, len(targets))
	for _, tp := range targets {
		name, err := a.backend.TargetTensorName(model, tp)
		if err != nil {
			return err
		}
		outputNames[tp] = name
		layout.Register(a.backend.OutputInsertionCommand(tp))
	}
	transformer, err := a.backend.ModelTransformer(model)
	if err != nil {
		return err
	}
	exposed, err := transformer.Transform(layout)
	if err != nil {
		return fmt.Errorf("expose statistic outputs: %w", err)
	}
	eng, err := a.backend.NewEngine(exposed)
	if err != nil {
		return err
	}

	n := ds.Len()
	if a.subsetSize > 0 {
		n = min(n, a.subsetSize)
	}
	seen := 0
	for i := 0; i < n && !points.Full(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := ds.Sample(i)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		outputs, err := eng.Infer(ctx, sample)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		for _, tp := range targets {
			t, err := a.backend.ProcessModelOutput(outputs, outputNames[tp])
			if err != nil {
				return fmt.Errorf("sample %d at %s: %w", i, tp, err)
			}
			for _, p := range points.ForNode(tp.NodeName) {
				if p.Target != tp {
					continue
				}
				if err := p.Collector.Register(t); err != nil {
					return fmt.Errorf("sample %d at %s: %w", i, tp, err)
				}
			}
		}
		seen++
	}
	log.Info("statistics collected", "samples", seen, "points", points.Len())
	return nil
}
