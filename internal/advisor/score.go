package advisor

import "math"

// Score maps a weight onto [0,100] on a log scale relative to the largest
// weight of the run, rounded to one decimal.
func Score(w, wmax float64) float64 {
	if w <= 0 || wmax <= 0 {
		return 0
	}
	s := 100 * math.Log1p(w) / math.Log1p(wmax)
	return round1(math.Min(100, math.Max(0, s)))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
