// Package correlate computes full cross-correlations of real sequences.
//
// Output index k corresponds to lag k-(len(b)-1): the value at lag L is the
// sum over n of a[n+L]*b[n]. A positive peak lag means a is ahead of b.
package correlate

import (
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Full correlates a and b through the frequency domain. The sequences are
// zero padded to a power of two no shorter than len(a)+len(b)-1, so the
// circular result contains the linear one.
func Full(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	n := len(a) + len(b) - 1
	size := nextPow2(n)

	pa := make([]float64, size)
	pb := make([]float64, size)
	copy(pa, a)
	copy(pb, b)

	fa := fft.FFTReal(pa)
	fb := fft.FFTReal(pb)
	for i := range fa {
		re, im := real(fb[i]), imag(fb[i])
		fa[i] *= complex(re, -im)
	}
	circular := fft.IFFT(fa)

	ret := make([]float64, n)
	for k := range ret {
		lag := k - (len(b) - 1)
		if lag < 0 {
			lag += size
		}
		ret[k] = real(circular[lag])
	}
	return ret
}

// Direct is the O(n*m) reference for Full.
func Direct(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	ret := make([]float64, len(a)+len(b)-1)
	for k := range ret {
		lag := k - (len(b) - 1)
		var sum float64
		for n := range b {
			if i := n + lag; i >= 0 && i < len(a) {
				sum += a[i] * b[n]
			}
		}
		ret[k] = sum
	}
	return ret
}

// PeakIndex is the index of the first maximum of r, or -1 if r is empty.
func PeakIndex(r []float64) int {
	if len(r) == 0 {
		return -1
	}
	return floats.MaxIdx(r)
}

// Lag converts an output index into a lag for a reference of length m.
func Lag(index, m int) int {
	return index - (m - 1)
}

func nextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
