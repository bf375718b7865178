// Package onnx reads, edits, writes and executes ONNX models.
//
// The protobuf messages are mirrored by plain Go structs (ModelProto,
// GraphProto, NodeProto, TensorProto, ...) decoded and encoded with
// google.golang.org/protobuf/encoding/protowire. Graph indexes a model for
// producer/consumer queries and Session runs it on a tensor.Backend.
//
// Example usage:
//
//	model, err := onnx.ParseFile("resnet18.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess, err := onnx.NewSession(model, cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := sess.Run(ctx, map[string]*tensor.RawTensor{"input": x})
package onnx
