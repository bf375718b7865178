package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

type reduceProcessor struct{}

func (reduceProcessor) ReduceMean(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMean)
}

func (reduceProcessor) ReduceMin(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMin)
}

func (reduceProcessor) ReduceMax(t tensor.Tensor, keep ReductionShape) (tensor.Tensor, error) {
	return tensor.Reduce(t, keep, tensor.ReduceMax)
}

// nchw builds a [1, 2, 1, 2] tensor whose channels hold (a, a) and (b, b).
func nchw(t *testing.T, a, b float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(tensor.Shape{1, 2, 1, 2}, []float32{a, a, b, b})
	require.NoError(t, err)
	return r
}

func TestMeanCollectorNoData(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 0, 0)
	_, err := c.Statistic()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMeanCollectorArithmeticMean(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 0, 0)
	require.NoError(t, c.Register(nchw(t, 1, 10)))
	require.NoError(t, c.Register(nchw(t, 2, 20)))
	require.NoError(t, c.Register(nchw(t, 6, 60)))

	stat, err := c.Statistic()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 30}, stat.Mean)
	assert.Equal(t, tensor.Shape{1, 2, 1, 2}, stat.Shape)
	assert.Equal(t, tensor.Shape{2}, stat.ReducedShape)
	assert.Equal(t, 3, c.Count())
}

func TestMeanCollectorGlobalReduction(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, nil, 0, 0)
	require.NoError(t, c.Register(nchw(t, 1, 3)))
	stat, err := c.Statistic()
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, stat.Mean)
	assert.Empty(t, stat.ReducedShape)
}

func TestMeanCollectorNumSamplesCap(t *testing.T) {
	k := 3
	capped := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, k, 0)
	reference := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 0, 0)

	inputs := []*tensor.RawTensor{nchw(t, 1, 2), nchw(t, 3, 4), nchw(t, 5, 6), nchw(t, 100, 200)}
	for i, x := range inputs {
		require.NoError(t, capped.Register(x))
		if i < k {
			require.NoError(t, reference.Register(x))
		}
	}
	assert.True(t, capped.Full())

	got, err := capped.Statistic()
	require.NoError(t, err)
	want, err := reference.Statistic()
	require.NoError(t, err)
	assert.Equal(t, want.Mean, got.Mean)
	assert.Equal(t, []float32{3, 4}, got.Mean)
}

func TestMeanCollectorWindow(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 0, 2)
	require.NoError(t, c.Register(nchw(t, 100, 100)))
	require.NoError(t, c.Register(nchw(t, 2, 4)))
	require.NoError(t, c.Register(nchw(t, 4, 8)))

	stat, err := c.Statistic()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 6}, stat.Mean)
	assert.Equal(t, 2, c.Count())
	assert.False(t, c.Full())
}

func TestMeanCollectorShapeMismatch(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 0, 0)
	require.NoError(t, c.Register(nchw(t, 1, 2)))

	other, err := tensor.FromSlice(tensor.Shape{1, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.ErrorContains(t, c.Register(other), "does not match")

	// A different batch size reduces to the same shape.
	batch2, err := tensor.FromSlice(tensor.Shape{2, 2, 1, 1}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.NoError(t, c.Register(batch2))
}

func TestMeanCollectorReset(t *testing.T) {
	c := NewMeanCollector(reduceProcessor{}, ReductionShape{1}, 1, 1)
	require.NoError(t, c.Register(nchw(t, 1, 2)))
	assert.True(t, c.Full())

	c.Reset()
	assert.False(t, c.Full())
	_, err := c.Statistic()
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, c.Register(nchw(t, 5, 6)))
	stat, err := c.Statistic()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, stat.Mean)
}

func TestMinMaxCollector(t *testing.T) {
	c := NewMinMaxCollector(reduceProcessor{}, nil, 2)
	_, err := c.Statistic()
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, c.Register(nchw(t, -1, 2)))
	require.NoError(t, c.Register(nchw(t, 0, 5)))
	require.NoError(t, c.Register(nchw(t, -50, 50)))

	stat, err := c.Statistic()
	require.NoError(t, err)
	assert.Equal(t, []float32{-1}, stat.Min)
	assert.Equal(t, []float32{5}, stat.Max)

	c.Reset()
	_, err = c.Statistic()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPointsContainer(t *testing.T) {
	pre := transform.TargetPoint{Type: transform.PreLayerOperation, NodeName: "conv", PortID: 0}
	post := transform.TargetPoint{Type: transform.PostLayerOperation, NodeName: "conv", PortID: 0}

	c := NewPointsContainer()
	c.Add(&StatisticPoint{Target: pre, Algorithm: "fbc", Collector: NewMeanCollector(reduceProcessor{}, nil, 1, 0)})
	c.Add(&StatisticPoint{Target: post, Algorithm: "fbc", Collector: NewMeanCollector(reduceProcessor{}, nil, 1, 0)})

	other := NewPointsContainer()
	other.Add(&StatisticPoint{Target: pre, Algorithm: "minmax", Collector: NewMinMaxCollector(reduceProcessor{}, nil, 1)})
	c.Merge(other)

	assert.Equal(t, 3, c.Len())
	assert.Len(t, c.ForNode("conv"), 3)
	assert.Equal(t, []transform.TargetPoint{pre, post}, c.Targets())

	p, ok := c.Find(pre, "minmax")
	require.True(t, ok)
	assert.IsType(t, &MinMaxCollector{}, p.Collector)
	_, ok = c.Find(post, "minmax")
	assert.False(t, ok)

	assert.False(t, c.Full())
	x := nchw(t, 1, 2)
	c.Each(func(p *StatisticPoint) { require.NoError(t, p.Collector.Register(x)) })
	assert.True(t, c.Full())
}
