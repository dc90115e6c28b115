// Package features turns finalized lap segments into per-lap feature vectors
// and uniform distance-grid series for cross-vehicle comparison.
package features

import "math"

// ResampleByDistance linearly interpolates vals onto a uniform distance grid
// with the given spacing, from 0 to lengthM inclusive of the last full step.
// dist must be sorted ascending; NaN values are skipped as interpolation
// anchors. Grid points outside the sampled span, or inside a NaN gap wider
// than two grid steps, come back NaN.
func ResampleByDistance(dist, vals []float64, spacingM, lengthM float64) (grid, out []float64) {
	if spacingM <= 0 {
		spacingM = 10
	}
	n := int(lengthM/spacingM) + 1
	grid = make([]float64, n)
	out = make([]float64, n)
	for i := range grid {
		grid[i] = float64(i) * spacingM
		out[i] = math.NaN()
	}

	// Collapse to valid anchor points.
	var ad, av []float64
	for i := range dist {
		if !math.IsNaN(dist[i]) && !math.IsNaN(vals[i]) {
			ad = append(ad, dist[i])
			av = append(av, vals[i])
		}
	}
	if len(ad) < 2 {
		return grid, out
	}

	maxGap := 2 * spacingM
	k := 0
	for i, g := range grid {
		if g < ad[0] || g > ad[len(ad)-1] {
			continue
		}
		for k < len(ad)-2 && ad[k+1] < g {
			k++
		}
		lo, hi := ad[k], ad[k+1]
		// Exact anchor hits bypass the gap check.
		if g == lo {
			out[i] = av[k]
			continue
		}
		if g == hi {
			out[i] = av[k+1]
			continue
		}
		if hi-lo > maxGap {
			continue
		}
		frac := (g - lo) / (hi - lo)
		out[i] = av[k] + frac*(av[k+1]-av[k])
	}
	return grid, out
}

// interpAt returns the linear interpolation of vals at distance d, or NaN
// when d is outside the anchored span.
func interpAt(dist, vals []float64, d float64) float64 {
	var pd, pv float64
	have := false
	for i := range dist {
		if math.IsNaN(dist[i]) || math.IsNaN(vals[i]) {
			continue
		}
		if dist[i] >= d {
			if !have || dist[i] == d || dist[i] == pd {
				return vals[i]
			}
			frac := (d - pd) / (dist[i] - pd)
			return pv + frac*(vals[i]-pv)
		}
		pd, pv, have = dist[i], vals[i], true
	}
	return math.NaN()
}
