package operators

// Node is the executor's view of an ONNX node. It mirrors the fields of
// onnx.NodeProto the handlers need so this package does not import onnx.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attribute is a node attribute. Only scalar and list forms are used.
type Attribute struct {
	Name   string
	F      float32
	I      int64
	S      []byte
	Floats []float32
	Ints   []int64
}

func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// GetAttrInt returns an integer attribute or defaultVal.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer list attribute as ints, or nil.
func GetAttrInts(node *Node, name string) []int {
	a := node.attr(name)
	if a == nil {
		return nil
	}
	ints := make([]int, len(a.Ints))
	for i, v := range a.Ints {
		ints[i] = int(v)
	}
	return ints
}

// GetAttrFloat returns a float attribute or defaultVal.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrString returns a string attribute or defaultVal.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}
