package fbc

import (
	"math"
	"strconv"
)

// Ratio is a shift magnitude. +Inf encodes as the JSON string "inf".
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"inf"`), nil
	}
	return strconv.AppendFloat(nil, float64(r), 'g', -1, 64), nil
}

// NodeResult records what happened to one bias-bearing node.
type NodeResult struct {
	Node      string `json:"node"`
	NodeType  string `json:"node_type"`
	Applied   bool   `json:"applied"`
	Magnitude Ratio  `json:"magnitude"`
	Skipped   string `json:"skipped,omitempty"`
}

// Report summarizes one Apply call.
type Report struct {
	Threshold float64      `json:"threshold"`
	Nodes     []NodeResult `json:"nodes"`
}

// Applied returns the number of corrected nodes.
func (r *Report) Applied() int {
	n := 0
	for _, res := range r.Nodes {
		if res.Applied {
			n++
		}
	}
	return n
}

// Skipped returns the number of nodes left untouched for a reason other
// than the threshold.
func (r *Report) Skipped() int {
	n := 0
	for _, res := range r.Nodes {
		if res.Skipped != "" {
			n++
		}
	}
	return n
}
