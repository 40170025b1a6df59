package fir

import (
	"fmt"
	"math"
)

// MakeLowPass designs a windowed-sinc low pass filter normalised to the given
// DC gain.
func MakeLowPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) ([]float32, error) {
	winFunc, ok := windowFuncs[winType]
	if !ok {
		return nil, fmt.Errorf("unknown window type %d", winType)
	}
	if sampleRate <= 0 || transitionWidth <= 0 || cutFrequency <= 0 || cutFrequency >= sampleRate/2 {
		return nil, fmt.Errorf("invalid low pass: rate %g cutoff %g transition %g", sampleRate, cutFrequency, transitionWidth)
	}

	nTaps := computeNTaps(sampleRate, transitionWidth, winType)
	var taps = make([]float32, nTaps)
	var w = winFunc(nTaps)

	var M = (nTaps - 1) / 2
	var fwT0 = 2 * math.Pi * cutFrequency / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[i+M] = float32(fwT0 / math.Pi * float64(w[i+M]))
		} else {
			fi := float64(i)
			taps[i+M] = float32(math.Sin(fi*fwT0) / (fi * math.Pi) * float64(w[i+M]))
		}
	}

	var fmax = float64(taps[0+M])
	for i := 1; i <= M; i++ {
		fmax += 2 * float64(taps[i+M])
	}

	gain /= fmax

	for i := 0; i < nTaps; i++ {
		taps[i] = float32(float64(taps[i]) * gain)
	}

	return taps, nil
}
