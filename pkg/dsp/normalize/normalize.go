package normalize

import "gonum.org/v1/gonum/floats"

// Unit returns a copy of s shifted so its minimum is 0 and scaled so its
// maximum is 1. A flat trace comes back as zeros.
func Unit(s []float64) []float64 {
	ret := make([]float64, len(s))
	if len(s) == 0 {
		return ret
	}
	copy(ret, s)
	floats.AddConst(-floats.Min(ret), ret)
	// divide rather than scale by the reciprocal so the maximum lands on
	// exactly 1
	if max := floats.Max(ret); max > 0 {
		for i := range ret {
			ret[i] /= max
		}
	}
	return ret
}

// Diff is a - b. Both must have the same length.
func Diff(a, b []float64) []float64 {
	ret := make([]float64, len(a))
	floats.SubTo(ret, a, b)
	return ret
}

// Extend appends the complement 1-s to s, doubling the period of a unit
// trace.
func Extend(s []float64) []float64 {
	ret := make([]float64, 2*len(s))
	copy(ret, s)
	for i, v := range s {
		ret[len(s)+i] = 1 - v
	}
	return ret
}
