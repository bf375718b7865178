// Package quantization runs the post-training quantization pipeline:
// statistics collection, min-max quantizer insertion and fast bias
// correction.
package quantization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/ptq/internal/aggregator"
	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/algorithms/fbc"
	"github.com/born-ml/ptq/internal/algorithms/minmax"
	onnxbackend "github.com/born-ml/ptq/internal/backends/onnx"
	"github.com/born-ml/ptq/internal/config"
	"github.com/born-ml/ptq/internal/dataset"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
)

// Report describes one pipeline run.
type Report struct {
	RunID              string         `json:"run_id"`
	Backend            string         `json:"backend"`
	Samples            int            `json:"samples"`
	Duration           time.Duration  `json:"duration_ns"`
	MinMax             *minmax.Report `json:"min_max,omitempty"`
	FastBiasCorrection *fbc.Report    `json:"fast_bias_correction,omitempty"`
}

// backends bundles the adapters of one model representation.
type backends struct {
	minmax      minmax.Backend
	fbc         fbc.Backend
	aggregator  aggregator.Backend
	prepare     func(model any) (any, error)
	inputShapes func(model any) (map[string]tensor.Shape, error)
}

func newBackends(bt algorithms.BackendType) (*backends, error) {
	switch bt {
	case algorithms.BackendONNX:
		return &backends{
			minmax:      onnxbackend.NewMinMaxBackend(),
			fbc:         onnxbackend.NewFBCBackend(),
			aggregator:  onnxbackend.NewAggregatorBackend(),
			prepare:     onnxbackend.PrepareModel,
			inputShapes: onnxbackend.InputShapes,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", algorithms.ErrUnsupportedBackend, bt)
	}
}

func backendsFor(model any, name string) (algorithms.BackendType, *backends, error) {
	bt, err := algorithms.BackendOf(model)
	if err != nil {
		return 0, nil, err
	}
	if name != "" {
		want, err := algorithms.ParseBackendType(name)
		if err != nil {
			return 0, nil, err
		}
		if want != bt {
			return 0, nil, fmt.Errorf("configured backend %s does not match %s model", want, bt)
		}
	}
	b, err := newBackends(bt)
	if err != nil {
		return 0, nil, err
	}
	return bt, b, nil
}

// Quantize quantizes model with min-max and then corrects biases with fast
// bias correction, both calibrated on ds. Statistics for both algorithms are
// collected from the float model in one pass. The input model is never
// modified.
func Quantize(ctx context.Context, model any, ds dataset.Dataset, cfg config.Config) (any, *Report, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	bt, b, err := backendsFor(model, cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	model, err = b.prepare(model)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{RunID: uuid.NewString(), Backend: bt.String()}
	log := logger.FromContext(ctx).With("run_id", report.RunID, "backend", report.Backend)
	ctx = logger.WithContext(ctx, log)

	var mm *minmax.Algorithm
	var fc *fbc.Algorithm
	points := statistics.NewPointsContainer()
	if cfg.MinMaxEnabled() {
		mm = minmax.New(b.minmax, cfg.MinMaxParams())
		p, err := mm.StatisticPoints(model)
		if err != nil {
			return nil, nil, fmt.Errorf("min-max statistic points: %w", err)
		}
		points.Merge(p)
	}
	if cfg.FBCEnabled() {
		fc = fbc.New(b.fbc, cfg.FBCParams())
		p, err := fc.StatisticPoints(model)
		if err != nil {
			return nil, nil, fmt.Errorf("fast bias correction statistic points: %w", err)
		}
		points.Merge(p)
	}

	if points.Len() > 0 {
		if ds == nil || ds.Len() == 0 {
			return nil, nil, fmt.Errorf("calibration dataset is empty: %w", statistics.ErrNoData)
		}
		report.Samples = ds.Len()
		if n := cfg.SampleCount(); n > 0 {
			report.Samples = min(report.Samples, n)
		}
		log.Info("collecting statistics", "points", points.Len(), "samples", report.Samples)
		if err := aggregator.New(b.aggregator, cfg.SampleCount()).Collect(ctx, model, ds, points); err != nil {
			return nil, nil, fmt.Errorf("collect statistics: %w", err)
		}
	}

	result := model
	if mm != nil {
		result, report.MinMax, err = mm.Apply(ctx, result, points)
		if err != nil {
			return nil, nil, fmt.Errorf("min-max: %w", err)
		}
	}
	if fc != nil {
		result, report.FastBiasCorrection, err = fc.Apply(ctx, result, points)
		if err != nil {
			return nil, nil, fmt.Errorf("fast bias correction: %w", err)
		}
	}
	report.Duration = time.Since(start)
	log.Info("quantization done", "duration", report.Duration)
	return result, report, nil
}

// RandomDataset returns n standard normal samples shaped like the model's
// inputs.
func RandomDataset(model any, n int, seed uint64) (dataset.Dataset, error) {
	_, b, err := backendsFor(model, "")
	if err != nil {
		return nil, err
	}
	shapes, err := b.inputShapes(model)
	if err != nil {
		return nil, err
	}
	return dataset.NewRandom(shapes, n, seed)
}
