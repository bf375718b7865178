package operators

import (
	"fmt"
	"sort"

	"github.com/born-ml/ptq/internal/tensor"
)

// OpHandler processes an ONNX node and returns its output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context carries the compute backend for operators.
type Context struct {
	Backend tensor.Backend
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every supported operator.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerMathOps()
	r.registerConvOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerQuantOps()

	return r
}

// Register adds or replaces an operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs the node's handler. Panics raised by the backend are returned
// as errors.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) (outputs []*tensor.RawTensor, err error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	defer func() {
		if p := recover(); p != nil {
			outputs = nil
			err = fmt.Errorf("%v", p)
		}
	}()
	return handler(ctx, node, inputs)
}

// SupportedOps returns the registered operator types, sorted.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// requireInputs checks the number of provided inputs, counting trailing
// optional inputs that were omitted.
func requireInputs(op string, inputs []*tensor.RawTensor, minN, maxN int) error {
	if len(inputs) < minN || len(inputs) > maxN {
		if minN == maxN {
			return fmt.Errorf("%s requires %d inputs, got %d", op, minN, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", op, minN, maxN, len(inputs))
	}
	for i := 0; i < minN; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is required", op, i)
		}
	}
	return nil
}

// optional returns inputs[i] or nil when the input is absent.
func optional(inputs []*tensor.RawTensor, i int) *tensor.RawTensor {
	if i < len(inputs) {
		return inputs[i]
	}
	return nil
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}
