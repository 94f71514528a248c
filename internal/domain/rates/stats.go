package rates

import "sort"

// RecomputeFunc rebuilds the aggregate of a key from its samples, newest first.
// Stores call it inside the transaction that inserted the sample.
type RecomputeFunc func(newestFirst []float64) Stats

// ComputeStats is the RecomputeFunc used in production. Only the newest
// SampleWindow rates count.
func ComputeStats(newestFirst []float64) Stats {
	if len(newestFirst) > SampleWindow {
		newestFirst = newestFirst[:SampleWindow]
	}
	if len(newestFirst) == 0 {
		return Stats{}
	}

	sorted := append([]float64(nil), newestFirst...)
	sort.Float64s(sorted)

	n := len(sorted)
	mid := n / 2
	median := sorted[mid]
	if n%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return Stats{
		SampleCount: n,
		Median:      median,
		Min:         sorted[0],
		Max:         sorted[n-1],
	}
}
