// Package transform describes graph edits as inert commands.
//
// Algorithms build TargetPoints and Commands, collect them in a
// TransformationLayout and hand the layout to a backend's ModelTransformer,
// which applies every command in one call or none of them.
package transform

import (
	"fmt"
	"slices"
)

// TargetType says which slot of a node a TargetPoint addresses.
type TargetType int

// Target types.
const (
	// PreLayerOperation is an activation entering the node at PortID.
	PreLayerOperation TargetType = iota
	// PostLayerOperation is an activation leaving the node at PortID.
	PostLayerOperation
	// OperationWithWeights is the weight input at PortID.
	OperationWithWeights
	// OperationWithBias is the bias input at PortID.
	OperationWithBias
	// Layer is the node as a whole.
	Layer
)

var targetTypeNames = [...]string{
	PreLayerOperation:    "PRE_LAYER_OPERATION",
	PostLayerOperation:   "POST_LAYER_OPERATION",
	OperationWithWeights: "OPERATION_WITH_WEIGHTS",
	OperationWithBias:    "OPERATION_WITH_BIAS",
	Layer:                "LAYER",
}

func (t TargetType) String() string {
	if t >= 0 && int(t) < len(targetTypeNames) {
		return targetTypeNames[t]
	}
	return fmt.Sprintf("TargetType(%d)", int(t))
}

// TargetPoint locates a transformation. Two points are equal when all three
// fields are equal, so TargetPoint can be used as a map key.
type TargetPoint struct {
	Type     TargetType
	NodeName string
	PortID   int
}

// Key returns a stable string form of the point.
func (tp TargetPoint) Key() string {
	return fmt.Sprintf("%s:%s:%d", tp.Type, tp.NodeName, tp.PortID)
}

func (tp TargetPoint) String() string {
	return tp.Key()
}

// NewTargetPoint builds a point after checking that the port is non-negative
// and the type is one of supported.
func NewTargetPoint(tt TargetType, nodeName string, portID int, supported ...TargetType) (TargetPoint, error) {
	tp := TargetPoint{Type: tt, NodeName: nodeName, PortID: portID}
	if portID < 0 {
		return TargetPoint{}, &InvalidTargetError{Target: tp, Reason: "negative port id"}
	}
	if !slices.Contains(supported, tt) {
		return TargetPoint{}, &InvalidTargetError{Target: tp, Reason: "unsupported target type"}
	}
	if nodeName == "" {
		return TargetPoint{}, &InvalidTargetError{Target: tp, Reason: "empty node name"}
	}
	return tp, nil
}

// InvalidTargetError reports a malformed target point.
type InvalidTargetError struct {
	Target TargetPoint
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target point %s: %s", e.Target, e.Reason)
}

// ExtractionError reports a sub-model that cannot be cut from a model.
type ExtractionError struct {
	Inputs  []string
	Outputs []string
	Reason  string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("cannot extract sub-model %v -> %v: %s", e.Inputs, e.Outputs, e.Reason)
}
