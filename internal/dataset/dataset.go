// Package dataset provides calibration data sources.
//
// A sample maps model input names to tensors. Sources are indexed so the
// calibration loop can stop as soon as every collector is full.
package dataset

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/born-ml/ptq/internal/tensor"
)

// Sample is one calibration input, keyed by model input name.
type Sample map[string]*tensor.RawTensor

// Dataset is an indexed collection of samples.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

// Slice is an in-memory dataset.
type Slice []Sample

// Len implements Dataset.
func (s Slice) Len() int {
	return len(s)
}

// Sample implements Dataset.
func (s Slice) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("sample %d out of range [0, %d)", i, len(s))
	}
	return s[i], nil
}

// Random generates standard normal samples for the given input shapes.
// Sample i is derived from seed and i alone, so samples can be requested in
// any order.
type Random struct {
	shapes map[string]tensor.Shape
	names  []string
	n      int
	seed   uint64
}

// NewRandom creates a random dataset of n samples.
func NewRandom(shapes map[string]tensor.Shape, n int, seed uint64) (*Random, error) {
	if n <= 0 {
		return nil, fmt.Errorf("random dataset needs a positive size, got %d", n)
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("random dataset needs at least one input shape")
	}
	names := make([]string, 0, len(shapes))
	for name, shape := range shapes {
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Random{shapes: shapes, names: names, n: n, seed: seed}, nil
}

// Len implements Dataset.
func (r *Random) Len() int {
	return r.n
}

// Sample implements Dataset.
func (r *Random) Sample(i int) (Sample, error) {
	if i < 0 || i >= r.n {
		return nil, fmt.Errorf("sample %d out of range [0, %d)", i, r.n)
	}
	rng := rand.New(rand.NewPCG(r.seed, uint64(i)))
	sample := make(Sample, len(r.names))
	for _, name := range r.names {
		t, err := tensor.NewRaw(r.shapes[name], tensor.Float32)
		if err != nil {
			return nil, err
		}
		values := t.AsFloat32()
		for j := range values {
			values[j] = float32(rng.NormFloat64())
		}
		sample[name] = t
	}
	return sample, nil
}
