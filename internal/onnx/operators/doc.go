// Package operators maps ONNX operator types to tensor.Backend calls.
//
// Each handler validates its inputs and attributes and delegates the numeric
// work to the backend. Backend shape failures are recovered by Registry.Execute
// and reported as errors naming the node.
package operators
