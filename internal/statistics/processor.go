package statistics

import (
	"github.com/born-ml/ptq/internal/tensor"
)

// ReductionShape lists the axes kept by a reduction. Every other axis is
// reduced; an empty shape reduces to a scalar.
type ReductionShape []int

// TensorProcessor performs the reductions collectors need on a backend's
// tensors.
type TensorProcessor interface {
	ReduceMean(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error)
	ReduceMin(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error)
	ReduceMax(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error)
}
