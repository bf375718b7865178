package statistics

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"github.com/born-ml/ptq/internal/tensor"
)

// ErrNoData is returned when a statistic is requested before any tensor was
// registered.
var ErrNoData = errors.New("no data collected")

// Collector is the common surface of statistic collectors.
type Collector interface {
	Register(t tensor.Tensor) error
	Reset()
	// Full reports whether the collector ignores further registrations.
	Full() bool
}

// MeanStatistic is a per-channel (or global) mean.
type MeanStatistic struct {
	Mean []float32
	// Shape is the shape of the first registered tensor.
	Shape tensor.Shape
	// ReducedShape is the shape Mean is laid out in.
	ReducedShape tensor.Shape
}

// MeanCollector keeps a running mean of reduced tensors.
type MeanCollector struct {
	processor  TensorProcessor
	reduction  ReductionShape
	numSamples int
	window     *circularbuffer.Queue

	sum          []float64
	count        int
	seen         int
	inputShape   tensor.Shape
	reducedShape tensor.Shape
}

var _ Collector = (*MeanCollector)(nil)

// NewMeanCollector creates a collector. numSamples and windowSize of zero
// leave collection unbounded.
func NewMeanCollector(processor TensorProcessor, reduction ReductionShape, numSamples, windowSize int) *MeanCollector {
	c := &MeanCollector{
		processor:  processor,
		reduction:  append(ReductionShape(nil), reduction...),
		numSamples: numSamples,
	}
	if windowSize > 0 {
		c.window = circularbuffer.New(windowSize)
	}
	return c
}

// ReductionShape returns the kept axes.
func (c *MeanCollector) ReductionShape() ReductionShape {
	return c.reduction
}

// Full reports whether num_samples registrations were accepted.
func (c *MeanCollector) Full() bool {
	return c.numSamples > 0 && c.seen >= c.numSamples
}

// Register reduces t and adds it to the mean. Registrations past
// num_samples are ignored. Every reduction must have the shape of the first.
func (c *MeanCollector) Register(t tensor.Tensor) error {
	if c.Full() {
		return nil
	}
	reduced, err := c.processor.ReduceMean(t, c.reduction)
	if err != nil {
		return fmt.Errorf("mean collector: %w", err)
	}
	values := reduced.Float32s()

	if c.sum == nil {
		c.sum = make([]float64, len(values))
		c.inputShape = t.Shape().Clone()
		c.reducedShape = reduced.Shape().Clone()
	} else if !reduced.Shape().Equal(c.reducedShape) {
		return fmt.Errorf("mean collector: reduced shape %v of input %v does not match %v", reduced.Shape(), t.Shape(), c.reducedShape)
	}

	sample := make([]float64, len(values))
	for i, v := range values {
		sample[i] = float64(v)
	}
	if c.window != nil && c.window.Full() {
		oldest, _ := c.window.Dequeue()
		for i, v := range oldest.([]float64) {
			c.sum[i] -= v
		}
		c.count--
	}
	if c.window != nil {
		c.window.Enqueue(sample)
	}
	for i, v := range sample {
		c.sum[i] += v
	}
	c.count++
	c.seen++
	return nil
}

// Statistic returns the mean of the registered tensors.
func (c *MeanCollector) Statistic() (*MeanStatistic, error) {
	if c.count == 0 {
		return nil, ErrNoData
	}
	mean := make([]float32, len(c.sum))
	for i, s := range c.sum {
		mean[i] = float32(s / float64(c.count))
	}
	return &MeanStatistic{
		Mean:         mean,
		Shape:        c.inputShape.Clone(),
		ReducedShape: c.reducedShape.Clone(),
	}, nil
}

// Count returns the number of observations in the current mean.
func (c *MeanCollector) Count() int {
	return c.count
}

// Reset drops all observations.
func (c *MeanCollector) Reset() {
	c.sum = nil
	c.count = 0
	c.seen = 0
	c.inputShape = nil
	c.reducedShape = nil
	if c.window != nil {
		c.window.Clear()
	}
}
