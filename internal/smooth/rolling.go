package smooth

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// window returns the value slice for a centered window of the given width at
// index i, padding past the edges by repeating the edge samples. NaN entries
// are skipped.
func window(vals []float64, i, width int) []float64 {
	half := width / 2
	out := make([]float64, 0, width)
	for k := i - half; k <= i+half; k++ {
		j := k
		if j < 0 {
			j = 0
		}
		if j >= len(vals) {
			j = len(vals) - 1
		}
		if !math.IsNaN(vals[j]) {
			out = append(out, vals[j])
		}
	}
	return out
}

// RollingMean returns the centered rolling mean of vals. Windows are padded
// at the edges so the output has the input's length. width is forced odd.
// Positions whose window is all NaN stay NaN.
func RollingMean(vals []float64, width int) []float64 {
	if width < 1 {
		width = 1
	}
	if width%2 == 0 {
		width++
	}
	out := make([]float64, len(vals))
	for i := range vals {
		w := window(vals, i, width)
		if len(w) == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Mean(w, nil)
	}
	return out
}

// RollingMedian returns the centered rolling median of vals with the same
// edge handling as RollingMean.
func RollingMedian(vals []float64, width int) []float64 {
	if width < 1 {
		width = 1
	}
	if width%2 == 0 {
		width++
	}
	out := make([]float64, len(vals))
	buf := make([]float64, 0, width)
	for i := range vals {
		buf = append(buf[:0], window(vals, i, width)...)
		if len(buf) == 0 {
			out[i] = math.NaN()
			continue
		}
		sort.Float64s(buf)
		m := len(buf) / 2
		if len(buf)%2 == 1 {
			out[i] = buf[m]
		} else {
			out[i] = (buf[m-1] + buf[m]) / 2
		}
	}
	return out
}

// ReplaceOutliers copies vals, replacing samples more than nsigma standard
// deviations from their rolling median with that median. The deviation scale
// at each index is computed over the window excluding the sample itself, so
// a spike cannot mask its own detection. Returns the copy and the number of
// replacements.
func ReplaceOutliers(vals []float64, width int, nsigma float64) ([]float64, int) {
	if nsigma <= 0 {
		nsigma = 3
	}
	if width < 3 {
		width = 3
	}
	if width%2 == 0 {
		width++
	}
	out := make([]float64, len(vals))
	copy(out, vals)
	if len(vals) < 3 {
		return out, 0
	}

	median := RollingMedian(vals, width)
	replaced := 0
	half := width / 2
	neighbors := make([]float64, 0, width)
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		neighbors = neighbors[:0]
		for k := i - half; k <= i+half; k++ {
			if k == i {
				continue
			}
			j := k
			if j < 0 {
				j = 0
			}
			if j >= len(vals) {
				j = len(vals) - 1
			}
			if j != i && !math.IsNaN(vals[j]) {
				neighbors = append(neighbors, vals[j])
			}
		}
		if len(neighbors) < 2 {
			continue
		}
		sigma := stat.StdDev(neighbors, nil)
		if sigma < 1e-12 {
			sigma = 1e-12
		}
		if math.Abs(v-median[i]) > nsigma*sigma {
			out[i] = median[i]
			replaced++
		}
	}
	return out, replaced
}
