package fir

import (
	"math"
)

type WindowFunc func(int) []float32

type WindowType int

const (
	Hamming  WindowType = 0
	Hann     WindowType = 1
	Blackman WindowType = 3
)

var (
	windowMaxAttenuation = map[WindowType]int{
		Hamming:  53,
		Hann:     44,
		Blackman: 74,
	}
	windowFuncs = map[WindowType]WindowFunc{
		Hamming:  HammingWindow,
		Hann:     HannWindow,
		Blackman: BlackmanWindow,
	}
)

// generalized cosine window with three terms
func cosWindow(ntaps int, c0, c1, c2 float64) []float32 {
	ret := make([]float32, ntaps)
	if ntaps == 1 {
		ret[0] = 1
		return ret
	}
	M := float64(ntaps - 1)

	for i := 0; i < ntaps; i++ {
		fi := float64(i)
		ret[i] = float32(c0 - c1*math.Cos((2*math.Pi*fi)/M) +
			c2*math.Cos((4*math.Pi*fi)/M))
	}
	return ret
}

func BlackmanWindow(ntaps int) []float32 {
	return cosWindow(ntaps, 0.42, 0.5, 0.08)
}

func HammingWindow(ntaps int) []float32 {
	return cosWindow(ntaps, 0.54, 0.46, 0)
}

func HannWindow(ntaps int) []float32 {
	return cosWindow(ntaps, 0.5, 0.5, 0)
}
