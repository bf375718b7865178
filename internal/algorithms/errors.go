package algorithms

import "fmt"

// BiasNotFoundError reports a node whose bias cannot be resolved to a
// constant.
type BiasNotFoundError struct {
	NodeName string
	Reason   string
}

func (e *BiasNotFoundError) Error() string {
	return fmt.Sprintf("could not find the bias value of node %s: %s", e.NodeName, e.Reason)
}
