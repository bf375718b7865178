// Package graph is the backend-neutral view of a model used by the
// quantization algorithms.
//
// A Graph holds Nodes connected by Edges. Every node carries a Metatype,
// looked up from a backend's MetatypeRegistry by operator type, and optional
// LayerAttributes recording its tensor names and weight/bias ports. Graphs
// borrow the concrete model they were built from and are never mutated by
// algorithms; edits go through the transform package.
package graph
