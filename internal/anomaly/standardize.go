package anomaly

import "math"

// standardize returns (x - mean) / std using population statistics of x.
// ok is false when x has fewer than two distinct values.
func standardize(x []float64) (scaled []float64, ok bool) {
	if len(x) < 2 || !hasSpread(x) {
		return nil, false
	}

	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))

	var variance float64
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(x)))
	if std == 0 || math.IsNaN(std) {
		return nil, false
	}

	scaled = make([]float64, len(x))
	for i, v := range x {
		scaled[i] = (v - mean) / std
	}
	return scaled, true
}

func hasSpread(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return true
		}
	}
	return false
}
