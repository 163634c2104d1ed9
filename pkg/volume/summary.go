package volume

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the density distribution of a grid.
type Summary struct {
	Min, Max     float64
	Mean, StdDev float64
	Median       float64
}

// Summarize computes density statistics over every voxel of g.
func Summarize(g *Grid) Summary {
	values := make([]float64, len(g.data))
	for i, v := range g.data {
		values[i] = float64(v)
	}

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	sort.Float64s(values)

	return Summary{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, values, nil),
	}
}
