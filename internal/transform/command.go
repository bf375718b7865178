package transform

import (
	"github.com/born-ml/ptq/internal/tensor"
)

// CommandType identifies a command kind. Transformers apply kinds in the
// order of these constants.
type CommandType int

// Command kinds, in application order.
const (
	InsertOutput CommandType = iota
	InsertQuantizer
	CorrectBias
	ExtractModel
)

func (c CommandType) String() string {
	switch c {
	case InsertOutput:
		return "insert_output"
	case InsertQuantizer:
		return "insert_quantizer"
	case CorrectBias:
		return "correct_bias"
	case ExtractModel:
		return "extract_model"
	default:
		return "unknown"
	}
}

// Command is an intended model edit.
type Command interface {
	Type() CommandType
}

// BiasCorrectionCommand replaces the bias at Target with Bias.
type BiasCorrectionCommand struct {
	Target    TargetPoint
	Bias      *tensor.RawTensor
	Threshold float64
}

// Type implements Command.
func (*BiasCorrectionCommand) Type() CommandType { return CorrectBias }

// ModelExtractionCommand cuts the sub-model computing Outputs from Inputs.
type ModelExtractionCommand struct {
	Inputs  []string
	Outputs []string
}

// Type implements Command.
func (*ModelExtractionCommand) Type() CommandType { return ExtractModel }

// QuantizerParams describe a linear quantizer. A single scale is
// per-tensor; otherwise Axis selects the channel dimension.
type QuantizerParams struct {
	Scale     []float32
	ZeroPoint []int32
	DType     tensor.DataType
	Axis      int
}

// PerChannel reports whether the quantizer has one scale per channel.
func (p QuantizerParams) PerChannel() bool {
	return len(p.Scale) > 1
}

// QuantizerInsertionCommand inserts a quantize/dequantize pair at Target.
type QuantizerInsertionCommand struct {
	Target TargetPoint
	Params QuantizerParams
}

// Type implements Command.
func (*QuantizerInsertionCommand) Type() CommandType { return InsertQuantizer }

// OutputInsertionCommand exposes the tensor at Target as a model output.
type OutputInsertionCommand struct {
	Target TargetPoint
}

// Type implements Command.
func (*OutputInsertionCommand) Type() CommandType { return InsertOutput }

// TransformationLayout collects commands for one transformer call.
type TransformationLayout struct {
	commands []Command
}

// NewLayout creates an empty layout.
func NewLayout() *TransformationLayout {
	return &TransformationLayout{}
}

// Register appends a command.
func (l *TransformationLayout) Register(cmd Command) {
	l.commands = append(l.commands, cmd)
}

// Commands returns the commands in registration order.
func (l *TransformationLayout) Commands() []Command {
	return l.commands
}

// Len returns the number of registered commands.
func (l *TransformationLayout) Len() int {
	return len(l.commands)
}

// ByType returns the commands of one kind in registration order.
func (l *TransformationLayout) ByType(t CommandType) []Command {
	var cmds []Command
	for _, c := range l.commands {
		if c.Type() == t {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// ModelTransformer applies a layout to the model it was built for. Transform
// returns a new model; on error the original model is unchanged and no
// command has taken effect.
type ModelTransformer interface {
	Transform(layout *TransformationLayout) (any, error)
}
