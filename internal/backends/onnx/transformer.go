package onnxbackend

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/algorithms/fbc"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// ModelTransformer applies transformation layouts to one ONNX model.
type ModelTransformer struct {
	model *onnx.ModelProto
}

var _ transform.ModelTransformer = (*ModelTransformer)(nil)

// NewModelTransformer binds a transformer to model, which is never modified.
func NewModelTransformer(model any) (*ModelTransformer, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	return &ModelTransformer{model: m}, nil
}

// Transform applies the layout to a clone of the model and returns it as
// *onnx.ModelProto. Commands run grouped by kind: output insertion, quantizer
// insertion, bias correction, then extraction. With an extraction command the
// result is the extracted sub-model.
func (t *ModelTransformer) Transform(layout *transform.TransformationLayout) (any, error) {
	extractions := layout.ByType(transform.ExtractModel)
	if len(extractions) > 1 {
		return nil, fmt.Errorf("layout has %d extraction commands, at most one is allowed", len(extractions))
	}

	model := t.model.Clone()
	for _, cmd := range layout.ByType(transform.InsertOutput) {
		if err := insertOutput(model, cmd.(*transform.OutputInsertionCommand)); err != nil {
			return nil, err
		}
	}

	quantizers := layout.ByType(transform.InsertQuantizer)
	for _, cmd := range quantizers {
		if err := insertQuantizer(model, cmd.(*transform.QuantizerInsertionCommand)); err != nil {
			return nil, err
		}
	}
	if len(quantizers) > 0 {
		if err := sortModelNodes(model); err != nil {
			return nil, err
		}
	}

	for _, cmd := range layout.ByType(transform.CorrectBias) {
		if err := correctBias(model, cmd.(*transform.BiasCorrectionCommand)); err != nil {
			return nil, err
		}
	}

	if len(extractions) == 1 {
		cmd := extractions[0].(*transform.ModelExtractionCommand)
		return extract(model, cmd.Inputs, cmd.Outputs)
	}
	return model, nil
}

// TargetTensorName resolves the tensor a target point refers to: the output
// at the port for PostLayerOperation, the input at the port otherwise.
func TargetTensorName(model any, tp transform.TargetPoint) (string, error) {
	m, err := asModel(model)
	if err != nil {
		return "", err
	}
	og, err := onnx.NewGraph(m)
	if err != nil {
		return "", err
	}
	return targetTensorName(og, tp)
}

func targetTensorName(og *onnx.Graph, tp transform.TargetPoint) (string, error) {
	node, ok := og.NodeByName(tp.NodeName)
	if !ok {
		return "", &transform.InvalidTargetError{Target: tp, Reason: "node not found"}
	}
	var names []string
	switch tp.Type {
	case transform.PreLayerOperation, transform.OperationWithWeights, transform.OperationWithBias:
		names = node.Inputs
	case transform.PostLayerOperation:
		names = node.Outputs
	default:
		return "", &transform.InvalidTargetError{Target: tp, Reason: "unsupported target type"}
	}
	if tp.PortID < 0 || tp.PortID >= len(names) || names[tp.PortID] == "" {
		return "", &transform.InvalidTargetError{Target: tp, Reason: fmt.Sprintf("port %d not connected", tp.PortID)}
	}
	return names[tp.PortID], nil
}

func insertOutput(model *onnx.ModelProto, cmd *transform.OutputInsertionCommand) error {
	og, err := onnx.NewGraph(model)
	if err != nil {
		return err
	}
	name, err := targetTensorName(og, cmd.Target)
	if err != nil {
		return err
	}
	if slices.Contains(og.OutputNames(), name) {
		return nil
	}
	elemType := int32(onnx.TensorProtoFloat)
	var shape []int
	if vi, ok := og.ValueInfo(name); ok {
		if vi.Type != nil && vi.Type.TensorType != nil && vi.Type.TensorType.ElemType != 0 {
			elemType = vi.Type.TensorType.ElemType
		}
		shape, _ = onnx.StaticShape(vi)
	}
	model.Graph.Outputs = append(model.Graph.Outputs, onnx.ValueInfo(name, elemType, shape))
	return nil
}

// quantizerBaseName names the tensors and nodes of a quantizer pair.
func quantizerBaseName(tp transform.TargetPoint) string {
	return fmt.Sprintf("%s_%s_%d", tp.NodeName, strings.ToLower(tp.Type.String()), tp.PortID)
}

func insertQuantizer(model *onnx.ModelProto, cmd *transform.QuantizerInsertionCommand) error {
	og, err := onnx.NewGraph(model)
	if err != nil {
		return err
	}
	tp := cmd.Target
	name, err := targetTensorName(og, tp)
	if err != nil {
		return err
	}

	base := quantizerBaseName(tp)
	qName, dqName := "QuantizeLinear_"+base, "DequantizeLinear_"+base
	if _, exists := og.NodeByName(qName); exists {
		return &transform.InvalidTargetError{Target: tp, Reason: "quantizer already inserted"}
	}

	scale, zeroPoint, err := quantizerTensors(cmd.Params)
	if err != nil {
		return fmt.Errorf("quantizer at %s: %w", tp, err)
	}
	scaleName, zpName := base+"/scale", base+"/zero_point"
	quantized, dequantized := base+"/quantized", base+"/dequantized"

	var attrs []onnx.AttributeProto
	if cmd.Params.PerChannel() {
		attrs = append(attrs, onnx.IntAttr("axis", int64(cmd.Params.Axis)))
	}

	// Rewire before appending so the new nodes are not rewired themselves.
	if tp.Type == transform.PostLayerOperation {
		for _, consumer := range og.NodesByInput(name) {
			for i, in := range consumer.Inputs {
				if in == name {
					consumer.Inputs[i] = dequantized
				}
			}
		}
	} else {
		node, _ := og.NodeByName(tp.NodeName)
		node.Inputs[tp.PortID] = dequantized
	}

	g := model.Graph
	g.Initializers = append(g.Initializers, *onnx.TensorToProto(scaleName, scale), *onnx.TensorToProto(zpName, zeroPoint))
	g.Nodes = append(g.Nodes,
		onnx.NodeProto{
			Name:       qName,
			OpType:     "QuantizeLinear",
			Inputs:     []string{name, scaleName, zpName},
			Outputs:    []string{quantized},
			Attributes: attrs,
		},
		onnx.NodeProto{
			Name:       dqName,
			OpType:     "DequantizeLinear",
			Inputs:     []string{quantized, scaleName, zpName},
			Outputs:    []string{dequantized},
			Attributes: slices.Clone(attrs),
		},
	)
	return nil
}

func quantizerTensors(p transform.QuantizerParams) (scale, zeroPoint *tensor.RawTensor, err error) {
	n := len(p.Scale)
	if n == 0 {
		return nil, nil, errors.New("no scale")
	}
	if len(p.ZeroPoint) != n {
		return nil, nil, fmt.Errorf("%d scales but %d zero points", n, len(p.ZeroPoint))
	}
	for i, s := range p.Scale {
		if !(s > 0) {
			return nil, nil, fmt.Errorf("scale %d is %v, must be positive", i, s)
		}
	}
	shape := tensor.Shape{}
	if p.PerChannel() {
		shape = tensor.Shape{n}
	}

	scale, err = tensor.FromSlice(shape, p.Scale)
	if err != nil {
		return nil, nil, err
	}
	switch p.DType {
	case tensor.Int8:
		zps := make([]int8, n)
		for i, z := range p.ZeroPoint {
			if z < -128 || z > 127 {
				return nil, nil, fmt.Errorf("zero point %d out of int8 range", z)
			}
			zps[i] = int8(z)
		}
		zeroPoint, err = tensor.FromSlice(shape, zps)
	case tensor.Uint8:
		zps := make([]uint8, n)
		for i, z := range p.ZeroPoint {
			if z < 0 || z > 255 {
				return nil, nil, fmt.Errorf("zero point %d out of uint8 range", z)
			}
			zps[i] = uint8(z)
		}
		zeroPoint, err = tensor.FromSlice(shape, zps)
	default:
		return nil, nil, fmt.Errorf("unsupported quantized type %s", p.DType)
	}
	if err != nil {
		return nil, nil, err
	}
	return scale, zeroPoint, nil
}

func sortModelNodes(model *onnx.ModelProto) error {
	sorted, err := onnx.SortNodes(model.Graph.Nodes)
	if err != nil {
		return err
	}
	nodes := make([]onnx.NodeProto, len(sorted))
	for i, n := range sorted {
		nodes[i] = *n
	}
	model.Graph.Nodes = nodes
	return nil
}

// biasInitializer resolves the initializer feeding a bias input, directly or
// through one Identity node.
func biasInitializer(og *onnx.Graph, node *onnx.NodeProto, port int) (*onnx.TensorProto, error) {
	if port < 0 || port >= len(node.Inputs) || node.Inputs[port] == "" {
		return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: fmt.Sprintf("input %d is not connected", port)}
	}
	name := node.Inputs[port]
	if init, ok := og.Initializer(name); ok {
		return init, nil
	}
	producers := og.NodesByOutput(name)
	if len(producers) == 0 {
		return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: fmt.Sprintf("%s is neither an initializer nor produced by a node", name)}
	}
	p := producers[0]
	if p.OpType != "Identity" {
		return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: fmt.Sprintf("%s is produced by unsupported operator %s", name, p.OpType)}
	}
	if len(p.Inputs) == 0 {
		return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: fmt.Sprintf("Identity %s has no input", p.Name)}
	}
	if init, ok := og.Initializer(p.Inputs[0]); ok {
		return init, nil
	}
	return nil, &algorithms.BiasNotFoundError{NodeName: node.Name, Reason: fmt.Sprintf("input of Identity %s is not an initializer", p.Name)}
}

func correctBias(model *onnx.ModelProto, cmd *transform.BiasCorrectionCommand) error {
	og, err := onnx.NewGraph(model)
	if err != nil {
		return err
	}
	tp := cmd.Target
	if tp.Type != transform.OperationWithBias {
		return &transform.InvalidTargetError{Target: tp, Reason: "bias correction needs an OPERATION_WITH_BIAS target"}
	}
	node, ok := og.NodeByName(tp.NodeName)
	if !ok {
		return &transform.InvalidTargetError{Target: tp, Reason: "node not found"}
	}
	if cmd.Bias == nil {
		return fmt.Errorf("bias correction at %s: no bias value", tp)
	}

	init, err := biasInitializer(og, node, tp.PortID)
	if err != nil {
		return err
	}
	current, err := onnx.TensorFromProto(init)
	if err != nil {
		return fmt.Errorf("bias of %s: %w", node.Name, err)
	}
	if !current.DType().IsFloat() {
		return fmt.Errorf("bias of %s has type %s, want a float type", node.Name, current.DType())
	}
	if current.NumElements() != cmd.Bias.NumElements() {
		return fmt.Errorf("bias of %s has %d elements, correction has %d", node.Name, current.NumElements(), cmd.Bias.NumElements())
	}

	old, updated := current.Float32s(), cmd.Bias.Float32s()
	shift := make([]float32, len(old))
	for i := range shift {
		shift[i] = updated[i] - old[i]
	}
	if !fbc.ShouldApply(old, shift, cmd.Threshold) {
		return nil
	}

	if !sharedBias(og, node, tp.PortID, init.Name) {
		replacement, err := biasProto(init.Name, updated, current.Shape(), init.DataType)
		if err != nil {
			return err
		}
		replacement.DocString = init.DocString
		*init = *replacement
		return nil
	}

	// Other consumers keep the original value; the node gets its own copy.
	name := node.Name + "/bias_corrected"
	if og.IsInitializer(name) || len(og.NodesByOutput(name)) > 0 {
		return fmt.Errorf("bias of %s: tensor %s already exists", node.Name, name)
	}
	replacement, err := biasProto(name, updated, current.Shape(), init.DataType)
	if err != nil {
		return err
	}
	node.Inputs[tp.PortID] = name
	model.Graph.Initializers = append(model.Graph.Initializers, *replacement)
	return nil
}

// sharedBias reports whether the bias tensor of node, or the initializer
// behind its Identity, feeds any other node.
func sharedBias(og *onnx.Graph, node *onnx.NodeProto, port int, initName string) bool {
	name := node.Inputs[port]
	if len(og.NodesByInput(name)) > 1 {
		return true
	}
	return name != initName && len(og.NodesByInput(initName)) > 1
}

// biasProto encodes values with the original element type of the bias.
func biasProto(name string, values []float32, shape tensor.Shape, dataType int32) (*onnx.TensorProto, error) {
	switch dataType {
	case onnx.TensorProtoFloat16:
		return onnx.Float16ToProto(name, shape, values)
	case onnx.TensorProtoDouble:
		wide := make([]float64, len(values))
		for i, v := range values {
			wide[i] = float64(v)
		}
		t, err := tensor.FromSlice(shape, wide)
		if err != nil {
			return nil, err
		}
		return onnx.TensorToProto(name, t), nil
	default:
		t, err := tensor.FromSlice(shape, values)
		if err != nil {
			return nil, err
		}
		return onnx.TensorToProto(name, t), nil
	}
}

// extract cuts the nodes computing outputs from inputs. Initializers count as
// available; any other tensor that cannot be reached from inputs is an
// ExtractionError.
func extract(model *onnx.ModelProto, inputs, outputs []string) (*onnx.ModelProto, error) {
	fail := func(format string, args ...any) error {
		return &transform.ExtractionError{Inputs: inputs, Outputs: outputs, Reason: fmt.Sprintf(format, args...)}
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fail("inputs and outputs must not be empty")
	}
	og, err := onnx.NewGraph(model)
	if err != nil {
		return nil, err
	}

	graphInputs := og.InputNames()
	for _, in := range inputs {
		if len(og.NodesByOutput(in)) == 0 && !slices.Contains(graphInputs, in) {
			return nil, fail("input %s is not a tensor of the model", in)
		}
	}

	boundary := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		boundary[in] = true
	}
	keep := make(map[string]bool)
	visited := make(map[string]bool)
	queue := linkedlistqueue.New()
	for _, out := range outputs {
		queue.Enqueue(out)
	}
	for !queue.Empty() {
		v, _ := queue.Dequeue()
		name := v.(string)
		if visited[name] {
			continue
		}
		visited[name] = true
		if boundary[name] || og.IsInitializer(name) {
			continue
		}
		producers := og.NodesByOutput(name)
		if len(producers) == 0 {
			if slices.Contains(graphInputs, name) {
				return nil, fail("depends on graph input %s", name)
			}
			return nil, fail("tensor %s is not computed by the model", name)
		}
		p := producers[0]
		keep[p.Name] = true
		for _, in := range p.Inputs {
			if in != "" {
				queue.Enqueue(in)
			}
		}
	}

	sub := &onnx.ModelProto{
		IRVersion:    model.IRVersion,
		OpsetImport:  slices.Clone(model.OpsetImport),
		ProducerName: model.ProducerName,
		Graph:        &onnx.GraphProto{Name: model.Graph.Name + "_extracted"},
	}
	used := make(map[string]bool)
	for i := range model.Graph.Nodes {
		node := &model.Graph.Nodes[i]
		if !keep[node.Name] {
			continue
		}
		sub.Graph.Nodes = append(sub.Graph.Nodes, node.Clone())
		for _, in := range node.Inputs {
			used[in] = true
		}
	}
	for i := range model.Graph.Initializers {
		if init := &model.Graph.Initializers[i]; used[init.Name] && !boundary[init.Name] {
			sub.Graph.Initializers = append(sub.Graph.Initializers, *init.Clone())
		}
	}
	for _, in := range inputs {
		sub.Graph.Inputs = append(sub.Graph.Inputs, valueInfoOrFloat(og, in))
	}
	for _, out := range outputs {
		sub.Graph.Outputs = append(sub.Graph.Outputs, valueInfoOrFloat(og, out))
	}
	return sub, nil
}

func valueInfoOrFloat(og *onnx.Graph, name string) onnx.ValueInfoProto {
	vi, ok := og.ValueInfo(name)
	if !ok || vi.Type == nil || vi.Type.TensorType == nil {
		return onnx.ValueInfo(name, onnx.TensorProtoFloat, nil)
	}
	shape, _ := onnx.StaticShape(vi)
	return onnx.ValueInfo(name, vi.Type.TensorType.ElemType, shape)
}
