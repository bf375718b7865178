// Package engine defines the inference boundary the algorithms call into.
package engine

import (
	"context"

	"github.com/born-ml/ptq/internal/tensor"
)

// Engine runs a model synchronously. Infer returns every model output by
// name and blocks until the run completes or ctx is done.
type Engine interface {
	InputNames() []string
	Infer(ctx context.Context, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error)
}
