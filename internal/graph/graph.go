package graph

import (
	"fmt"
	"sort"

	"github.com/born-ml/ptq/internal/tensor"
)

// Node is one operation of a Graph.
type Node struct {
	ID              int
	Name            string
	NodeType        string
	Metatype        *Metatype
	LayerAttributes LayerAttributes
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.NodeType)
}

// Edge carries one tensor from an output port of From to an input port of To.
// Shape is nil when unknown.
type Edge struct {
	From       *Node
	To         *Node
	FromPort   int
	ToPort     int
	TensorName string
	Shape      tensor.Shape
}

// Graph is a directed graph of nodes in insertion order.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
	edges  []*Edge
	in     map[int][]*Edge
	out    map[int][]*Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]*Node),
		in:     make(map[int][]*Edge),
		out:    make(map[int][]*Edge),
	}
}

// AddNode appends a node. Names must be unique.
func (g *Graph) AddNode(name, nodeType string, metatype *Metatype, attrs LayerAttributes) (*Node, error) {
	if _, dup := g.byName[name]; dup {
		return nil, fmt.Errorf("duplicate node name %q", name)
	}
	if metatype == nil {
		return nil, fmt.Errorf("node %q has no metatype", name)
	}
	n := &Node{
		ID:              len(g.nodes),
		Name:            name,
		NodeType:        nodeType,
		Metatype:        metatype,
		LayerAttributes: attrs,
	}
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	return n, nil
}

// AddEdge connects two nodes of the graph.
func (g *Graph) AddEdge(from, to *Node, fromPort, toPort int, tensorName string, shape tensor.Shape) (*Edge, error) {
	if g.byName[from.Name] != from || g.byName[to.Name] != to {
		return nil, fmt.Errorf("edge %s -> %s: node not in graph", from.Name, to.Name)
	}
	if fromPort < 0 || toPort < 0 {
		return nil, fmt.Errorf("edge %s -> %s: negative port", from.Name, to.Name)
	}
	e := &Edge{From: from, To: to, FromPort: fromPort, ToPort: toPort, TensorName: tensorName, Shape: shape}
	g.edges = append(g.edges, e)
	g.out[from.ID] = append(g.out[from.ID], e)
	g.in[to.ID] = append(g.in[to.ID], e)
	return e, nil
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// NodeByName looks up a node.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// NodesByMetatypes returns the nodes whose metatype is one of metatypes.
func (g *Graph) NodesByMetatypes(metatypes ...*Metatype) []*Node {
	var nodes []*Node
	for _, n := range g.nodes {
		if ContainsMetatype(metatypes, n.Metatype) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// InputEdges returns the edges entering n, ordered by input port.
func (g *Graph) InputEdges(n *Node) []*Edge {
	edges := append([]*Edge(nil), g.in[n.ID]...)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].ToPort < edges[j].ToPort })
	return edges
}

// OutputEdges returns the edges leaving n, ordered by output port.
func (g *Graph) OutputEdges(n *Node) []*Edge {
	edges := append([]*Edge(nil), g.out[n.ID]...)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].FromPort < edges[j].FromPort })
	return edges
}

// InputEdge returns the edge entering n at port.
func (g *Graph) InputEdge(n *Node, port int) (*Edge, bool) {
	for _, e := range g.in[n.ID] {
		if e.ToPort == port {
			return e, true
		}
	}
	return nil, false
}

// Producers returns the distinct nodes feeding n, in port order.
func (g *Graph) Producers(n *Node) []*Node {
	var nodes []*Node
	seen := make(map[int]bool)
	for _, e := range g.InputEdges(n) {
		if !seen[e.From.ID] {
			seen[e.From.ID] = true
			nodes = append(nodes, e.From)
		}
	}
	return nodes
}

// Consumers returns the distinct nodes fed by n.
func (g *Graph) Consumers(n *Node) []*Node {
	var nodes []*Node
	seen := make(map[int]bool)
	for _, e := range g.OutputEdges(n) {
		if !seen[e.To.ID] {
			seen[e.To.ID] = true
			nodes = append(nodes, e.To)
		}
	}
	return nodes
}

// InputNodes returns the synthetic graph-input nodes.
func (g *Graph) InputNodes() []*Node {
	return g.NodesByMetatypes(InputNoopMetatype)
}

// OutputNodes returns the synthetic graph-output nodes.
func (g *Graph) OutputNodes() []*Node {
	return g.NodesByMetatypes(OutputNoopMetatype)
}
