package rates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name     string
		input    []float64
		expected Stats
	}{
		{name: "empty", input: nil, expected: Stats{}},
		{name: "single", input: []float64{12.5}, expected: Stats{SampleCount: 1, Median: 12.5, Min: 12.5, Max: 12.5}},
		{name: "odd count", input: []float64{30, 10, 20}, expected: Stats{SampleCount: 3, Median: 20, Min: 10, Max: 30}},
		{name: "even count", input: []float64{20, 10}, expected: Stats{SampleCount: 2, Median: 15, Min: 10, Max: 20}},
		{name: "newest first order irrelevant", input: []float64{50, 45, 40}, expected: Stats{SampleCount: 3, Median: 45, Min: 40, Max: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeStats(tt.input))
		})
	}
}

func TestComputeStats_WindowCap(t *testing.T) {
	// newest first: 1..50 are inside the window, 51..60 fall out
	in := make([]float64, 60)
	for i := range in {
		in[i] = float64(i + 1)
	}

	st := ComputeStats(in)
	assert.Equal(t, SampleWindow, st.SampleCount)
	assert.Equal(t, 25.5, st.Median)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 50.0, st.Max)
}

func TestComputeStats_DoesNotReorderInput(t *testing.T) {
	in := []float64{30, 10, 20}
	_ = ComputeStats(in)
	assert.Equal(t, []float64{30, 10, 20}, in)
}
