package graph

import (
	"fmt"
	"sort"
)

// Category groups metatypes by what the algorithms need to know about them.
type Category int

// Operator categories.
const (
	CategoryUnknown Category = iota
	CategoryInput
	CategoryOutput
	CategoryConvolution
	CategoryMatMul
	CategoryIdentity
	CategoryQuantize
	CategoryDequantize
	CategoryActivation
	CategoryElementwise
	CategoryPooling
	CategoryReshape
)

var categoryNames = [...]string{
	CategoryUnknown:     "unknown",
	CategoryInput:       "input",
	CategoryOutput:      "output",
	CategoryConvolution: "convolution",
	CategoryMatMul:      "matmul",
	CategoryIdentity:    "identity",
	CategoryQuantize:    "quantize",
	CategoryDequantize:  "dequantize",
	CategoryActivation:  "activation",
	CategoryElementwise: "elementwise",
	CategoryPooling:     "pooling",
	CategoryReshape:     "reshape",
}

// String returns the category name.
func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Metatype classifies backend operator types into an abstract kind.
// Metatypes are compared by pointer identity.
type Metatype struct {
	Name       string
	OpNames    []string
	Category   Category
	HasWeights bool
}

// String returns the metatype name.
func (m *Metatype) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}

// Synthetic metatypes for graph inputs and outputs. They have no operator
// names and are never returned by a registry lookup.
var (
	InputNoopMetatype  = &Metatype{Name: "input_noop", Category: CategoryInput}
	OutputNoopMetatype = &Metatype{Name: "output_noop", Category: CategoryOutput}
)

// ClassificationError reports an operator type with no metatype and no
// fallback in a registry.
type ClassificationError struct {
	Registry string
	OpName   string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("registry %s: no metatype for operator %q", e.Registry, e.OpName)
}

// MetatypeRegistry maps operator type names to metatypes, one metatype per
// name.
type MetatypeRegistry struct {
	name     string
	byOpName map[string]*Metatype
	ordered  []*Metatype
	fallback *Metatype
}

// NewMetatypeRegistry creates an empty registry.
func NewMetatypeRegistry(name string) *MetatypeRegistry {
	return &MetatypeRegistry{
		name:     name,
		byOpName: make(map[string]*Metatype),
	}
}

// Name returns the registry name.
func (r *MetatypeRegistry) Name() string {
	return r.name
}

// Register adds a metatype under each of its operator names. Registering a
// name twice is an error and leaves the registry unchanged.
func (r *MetatypeRegistry) Register(m *Metatype) error {
	if m == nil || len(m.OpNames) == 0 {
		return fmt.Errorf("registry %s: metatype %v has no operator names", r.name, m)
	}
	for _, op := range m.OpNames {
		if prev, ok := r.byOpName[op]; ok {
			return fmt.Errorf("registry %s: operator %q already mapped to %s", r.name, op, prev.Name)
		}
	}
	for _, op := range m.OpNames {
		r.byOpName[op] = m
	}
	r.ordered = append(r.ordered, m)
	return nil
}

// MustRegister is Register for package-level tables; it panics on error.
func (r *MetatypeRegistry) MustRegister(metatypes ...*Metatype) *MetatypeRegistry {
	for _, m := range metatypes {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// SetFallback configures the metatype returned for unknown operator names.
func (r *MetatypeRegistry) SetFallback(m *Metatype) *MetatypeRegistry {
	r.fallback = m
	return r
}

// ByOpName returns the metatype for an operator type. Unknown names resolve
// to the fallback, or a *ClassificationError when none is set.
func (r *MetatypeRegistry) ByOpName(opName string) (*Metatype, error) {
	if m, ok := r.byOpName[opName]; ok {
		return m, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, &ClassificationError{Registry: r.name, OpName: opName}
}

// Contains reports whether m was registered.
func (r *MetatypeRegistry) Contains(m *Metatype) bool {
	for _, op := range m.OpNames {
		if r.byOpName[op] == m {
			return true
		}
	}
	return false
}

// Metatypes returns the registered metatypes in registration order.
func (r *MetatypeRegistry) Metatypes() []*Metatype {
	return append([]*Metatype(nil), r.ordered...)
}

// OpNames returns every registered operator name, sorted.
func (r *MetatypeRegistry) OpNames() []string {
	names := make([]string, 0, len(r.byOpName))
	for op := range r.byOpName {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// ContainsMetatype reports whether m is one of list.
func ContainsMetatype(list []*Metatype, m *Metatype) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
