// Package quantization quantizes ONNX models after training.
//
// Quantize inserts quantize/dequantize pairs with ranges measured on a
// calibration dataset, then runs fast bias correction to compensate the
// shift the quantized weights introduce in each layer's output.
//
// # Example Usage
//
//	model, err := onnx.Load("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ds, err := quantization.LoadDataset("calibration.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	quantized, report, err := quantization.Quantize(ctx, model, ds, quantization.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("corrected biases:", report.FastBiasCorrection.Applied())
//	err = onnx.Save("model.int8.onnx", quantized)
package quantization

import (
	"context"
	"fmt"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/config"
	"github.com/born-ml/ptq/internal/dataset"
	"github.com/born-ml/ptq/internal/graph"
	internalq "github.com/born-ml/ptq/internal/quantization"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/transform"
	"github.com/born-ml/ptq/onnx"
)

// Config holds the pipeline settings. The zero value of every field means
// "use the default".
type Config = config.Config

// Report describes one Quantize run.
type Report = internalq.Report

// NodeInfo describes one operator of an inspected model.
type NodeInfo = internalq.NodeInfo

// Dataset is a finite, indexable set of calibration samples.
type Dataset = dataset.Dataset

// Sample maps model input names to tensors.
type Sample = dataset.Sample

// Samples is an in-memory Dataset.
type Samples = dataset.Slice

// Errors reported by the pipeline. Match them with errors.Is and errors.As.
var (
	ErrNoData             = statistics.ErrNoData
	ErrUnsupportedBackend = algorithms.ErrUnsupportedBackend
)

type (
	// ClassificationError reports an operator with no known metatype.
	ClassificationError = graph.ClassificationError
	// BiasNotFoundError reports a bias that does not resolve to a constant.
	BiasNotFoundError = algorithms.BiasNotFoundError
	// InvalidTargetError reports a target point the model cannot resolve.
	InvalidTargetError = transform.InvalidTargetError
	// ExtractionError reports a sub-model that cannot be cut out.
	ExtractionError = transform.ExtractionError
)

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// LoadDataset reads calibration samples from a JSON file.
func LoadDataset(path string) (Samples, error) {
	return dataset.LoadJSON(path)
}

// RandomDataset returns n standard normal samples shaped like the model's
// inputs. Symbolic dimensions are set to 1.
func RandomDataset(model *onnx.Model, n int, seed uint64) (Dataset, error) {
	return internalq.RandomDataset(model, n, seed)
}

// Quantize returns a quantized, bias-corrected copy of model. The input
// model is not modified.
func Quantize(ctx context.Context, model *onnx.Model, ds Dataset, cfg Config) (*onnx.Model, *Report, error) {
	out, report, err := internalq.Quantize(ctx, model, ds, cfg)
	if err != nil {
		return nil, nil, err
	}
	quantized, ok := out.(*onnx.Model)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected model type %T", out)
	}
	return quantized, report, nil
}

// Inspect lists the operators of model and how the pipeline treats them.
func Inspect(model *onnx.Model) ([]NodeInfo, error) {
	return internalq.Inspect(model)
}
