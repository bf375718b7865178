package onnxbackend

import (
	"fmt"

	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
)

// TensorProcessor reduces ONNX runtime tensors on the host.
type TensorProcessor struct{}

var _ statistics.TensorProcessor = TensorProcessor{}

// ReduceMean implements statistics.TensorProcessor.
func (TensorProcessor) ReduceMean(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return reduce(t, keep, tensor.ReduceMean)
}

// ReduceMin implements statistics.TensorProcessor.
func (TensorProcessor) ReduceMin(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return reduce(t, keep, tensor.ReduceMin)
}

// ReduceMax implements statistics.TensorProcessor.
func (TensorProcessor) ReduceMax(t tensor.Tensor, keep statistics.ReductionShape) (tensor.Tensor, error) {
	return reduce(t, keep, tensor.ReduceMax)
}

func reduce(t tensor.Tensor, keep statistics.ReductionShape, op tensor.ReduceOp) (tensor.Tensor, error) {
	if t.Shape().NumElements() == 0 {
		return nil, fmt.Errorf("cannot reduce empty tensor of shape %v", t.Shape())
	}
	r, err := tensor.Reduce(t, keep, op)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateBlob returns a float32 tensor of shape whose slice at index i along
// channelAxis is filled with data[i].
func CreateBlob(shape tensor.Shape, data []float32, channelAxis int) (*tensor.RawTensor, error) {
	axis, err := shape.NormalizeAxis(channelAxis)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}
	if shape[axis] != len(data) {
		return nil, fmt.Errorf("create blob: %d values for %d channels on axis %d of %v", len(data), shape[axis], channelAxis, shape)
	}
	blob, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	strides := shape.ComputeStrides()
	values := blob.AsFloat32()
	for i := range values {
		values[i] = data[(i/strides[axis])%shape[axis]]
	}
	return blob, nil
}

// ProcessModelOutput picks the named tensor from an inference result.
func ProcessModelOutput(outputs map[string]*tensor.RawTensor, name string) (tensor.Tensor, error) {
	out, ok := outputs[name]
	if !ok || out == nil {
		return nil, fmt.Errorf("model output %q not found", name)
	}
	return WrapTensor(out), nil
}

// WrapTensor exposes a runtime tensor to statistic collectors.
func WrapTensor(raw *tensor.RawTensor) tensor.Tensor {
	return raw
}
