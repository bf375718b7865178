// Package statistics accumulates activation statistics during calibration.
//
// Collectors reduce each observed tensor to a fixed set of kept axes with a
// backend TensorProcessor and fold the result into a running aggregate.
// num_samples caps how many observations are accepted; window_size keeps
// only the trailing observations. Querying a collector that never saw data
// fails with ErrNoData.
package statistics
