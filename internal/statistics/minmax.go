package statistics

import (
	"fmt"
	"math"

	"github.com/born-ml/ptq/internal/tensor"
)

// MinMaxStatistic holds element-wise bounds over the kept axes.
type MinMaxStatistic struct {
	Min []float32
	Max []float32
}

// MinMaxCollector tracks the minimum of minimums and the maximum of maximums.
type MinMaxCollector struct {
	processor  TensorProcessor
	reduction  ReductionShape
	numSamples int

	min   []float32
	max   []float32
	shape tensor.Shape
	seen  int
}

var _ Collector = (*MinMaxCollector)(nil)

// NewMinMaxCollector creates a collector; numSamples of zero is unbounded.
func NewMinMaxCollector(processor TensorProcessor, reduction ReductionShape, numSamples int) *MinMaxCollector {
	return &MinMaxCollector{
		processor:  processor,
		reduction:  append(ReductionShape(nil), reduction...),
		numSamples: numSamples,
	}
}

// Full reports whether num_samples registrations were accepted.
func (c *MinMaxCollector) Full() bool {
	return c.numSamples > 0 && c.seen >= c.numSamples
}

// Register folds the bounds of t into the statistic.
func (c *MinMaxCollector) Register(t tensor.Tensor) error {
	if c.Full() {
		return nil
	}
	lo, err := c.processor.ReduceMin(t, c.reduction)
	if err != nil {
		return fmt.Errorf("min-max collector: %w", err)
	}
	hi, err := c.processor.ReduceMax(t, c.reduction)
	if err != nil {
		return fmt.Errorf("min-max collector: %w", err)
	}

	if c.min == nil {
		c.shape = lo.Shape().Clone()
		c.min = make([]float32, len(lo.Float32s()))
		c.max = make([]float32, len(c.min))
		for i := range c.min {
			c.min[i] = float32(math.Inf(1))
			c.max[i] = float32(math.Inf(-1))
		}
	} else if !lo.Shape().Equal(c.shape) {
		return fmt.Errorf("min-max collector: reduced shape %v does not match %v", lo.Shape(), c.shape)
	}

	for i, v := range lo.Float32s() {
		c.min[i] = min(c.min[i], v)
	}
	for i, v := range hi.Float32s() {
		c.max[i] = max(c.max[i], v)
	}
	c.seen++
	return nil
}

// Statistic returns the collected bounds.
func (c *MinMaxCollector) Statistic() (*MinMaxStatistic, error) {
	if c.seen == 0 {
		return nil, ErrNoData
	}
	return &MinMaxStatistic{
		Min: append([]float32(nil), c.min...),
		Max: append([]float32(nil), c.max...),
	}, nil
}

// Reset drops all observations.
func (c *MinMaxCollector) Reset() {
	c.min, c.max, c.shape = nil, nil, nil
	c.seen = 0
}
