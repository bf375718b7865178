package operators

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Flatten", handleFlatten)
	r.Register("Reshape", handleReshape)
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

// handleFlatten reshapes to [prod(dims[:axis]), prod(dims[axis:])].
func handleFlatten(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for %v", axis, shape)
	}
	outer := tensor.Shape(shape[:axis]).NumElements()
	result, err := inputs[0].Reshape(tensor.Shape{outer, inputs[0].NumElements() / outer})
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	return single(result), nil
}

// handleReshape supports 0 (copy dimension) and a single -1 (infer).
func handleReshape(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Reshape", inputs, 2, 2); err != nil {
		return nil, err
	}
	x := inputs[0]
	if inputs[1].DType() != tensor.Int64 {
		return nil, fmt.Errorf("reshape: shape must be int64, got %s", inputs[1].DType())
	}
	allowZero := GetAttrInt(node, "allowzero", 0) != 0

	target := inputs[1].AsInt64()
	shape := make(tensor.Shape, len(target))
	infer := -1
	known := 1
	for i, d := range target {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in %v", target)
			}
			infer = i
			continue
		case d == 0 && !allowZero:
			if i >= len(x.Shape()) {
				return nil, fmt.Errorf("reshape: cannot copy dimension %d of %v", i, x.Shape())
			}
			shape[i] = x.Shape()[i]
		case d < 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d", d)
		default:
			shape[i] = int(d)
		}
		known *= shape[i]
	}
	if infer >= 0 {
		if known == 0 || x.NumElements()%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension of %v for %d elements", target, x.NumElements())
		}
		shape[infer] = x.NumElements() / known
	}

	result, err := x.Reshape(shape)
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return single(result), nil
}
