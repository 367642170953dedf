package offsets

// PartitionSeries is one partition's samples across a window, in tick order.
type PartitionSeries struct {
	Partition int32
	Samples   []PartitionSample
}

// GroupByPartition flattens a window (one []PartitionSample per tick, as
// returned by RingBuffer.SnapshotFullOrEmpty) into one series per partition,
// preserving tick order within each series. A nil or empty window yields a
// nil result, matching the "not enough data" signal from the ring buffer.
func GroupByPartition(window [][]PartitionSample) []PartitionSeries {
	if len(window) == 0 {
		return nil
	}

	order := make([]int32, 0)
	byPartition := make(map[int32][]PartitionSample)
	for _, tick := range window {
		for _, s := range tick {
			if _, seen := byPartition[s.Partition]; !seen {
				order = append(order, s.Partition)
			}
			byPartition[s.Partition] = append(byPartition[s.Partition], s)
		}
	}

	series := make([]PartitionSeries, 0, len(order))
	for _, p := range order {
		series = append(series, PartitionSeries{Partition: p, Samples: byPartition[p]})
	}
	return series
}
