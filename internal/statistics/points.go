package statistics

import (
	"github.com/born-ml/ptq/internal/transform"
)

// StatisticPoint binds a collector to the tensor at a target point on
// behalf of an algorithm.
type StatisticPoint struct {
	Target    transform.TargetPoint
	Algorithm string
	Collector Collector
}

// PointsContainer groups statistic points by node name.
type PointsContainer struct {
	byNode map[string][]*StatisticPoint
	order  []string
}

// NewPointsContainer creates an empty container.
func NewPointsContainer() *PointsContainer {
	return &PointsContainer{byNode: make(map[string][]*StatisticPoint)}
}

// Add registers a point.
func (c *PointsContainer) Add(p *StatisticPoint) {
	name := p.Target.NodeName
	if _, ok := c.byNode[name]; !ok {
		c.order = append(c.order, name)
	}
	c.byNode[name] = append(c.byNode[name], p)
}

// Merge adds every point of other.
func (c *PointsContainer) Merge(other *PointsContainer) {
	other.Each(func(p *StatisticPoint) { c.Add(p) })
}

// ForNode returns the points of one node.
func (c *PointsContainer) ForNode(nodeName string) []*StatisticPoint {
	return c.byNode[nodeName]
}

// Find returns the first point at target registered by algorithm.
func (c *PointsContainer) Find(target transform.TargetPoint, algorithm string) (*StatisticPoint, bool) {
	for _, p := range c.byNode[target.NodeName] {
		if p.Target == target && p.Algorithm == algorithm {
			return p, true
		}
	}
	return nil, false
}

// Each calls fn for every point, nodes in insertion order.
func (c *PointsContainer) Each(fn func(p *StatisticPoint)) {
	for _, name := range c.order {
		for _, p := range c.byNode[name] {
			fn(p)
		}
	}
}

// Targets returns the distinct target points in insertion order.
func (c *PointsContainer) Targets() []transform.TargetPoint {
	var targets []transform.TargetPoint
	seen := make(map[transform.TargetPoint]bool)
	c.Each(func(p *StatisticPoint) {
		if !seen[p.Target] {
			seen[p.Target] = true
			targets = append(targets, p.Target)
		}
	})
	return targets
}

// Len returns the number of points.
func (c *PointsContainer) Len() int {
	n := 0
	for _, points := range c.byNode {
		n += len(points)
	}
	return n
}

// Full reports whether every collector stopped accepting data.
func (c *PointsContainer) Full() bool {
	full := true
	c.Each(func(p *StatisticPoint) {
		full = full && p.Collector.Full()
	})
	return full
}
