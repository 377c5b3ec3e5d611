package strategy

import "math"

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs. Fewer than two
// points yield 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

// SMA returns the simple moving average of the last n values. It reports
// false when fewer than n values exist.
func SMA(xs []float64, n int) (float64, bool) {
	if n <= 0 || len(xs) < n {
		return 0, false
	}
	return Mean(xs[len(xs)-n:]), true
}

// ZScore returns how many standard deviations the last value of window lies
// from the window mean. A flat window yields 0.
func ZScore(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	sd := StdDev(window)
	if sd == 0 {
		return 0
	}
	return (window[len(window)-1] - Mean(window)) / sd
}
