package fir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeLowPass(t *testing.T) {
	taps, err := MakeLowPass(1.0, 1e6, 50e3, 50e3, Hamming)
	require.NoError(t, err)
	require.Equal(t, 1, len(taps)%2, "tap count must be odd")

	var sum float64
	for _, tap := range taps {
		sum += float64(tap)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	// symmetric
	for i := 0; i < len(taps)/2; i++ {
		assert.InDelta(t, taps[i], taps[len(taps)-1-i], 1e-7)
	}

	_, err = MakeLowPass(1.0, 1e6, 600e3, 50e3, Hamming)
	assert.Error(t, err)
	_, err = MakeLowPass(1.0, 1e6, 50e3, 50e3, WindowType(42))
	assert.Error(t, err)
}

func TestWindows(t *testing.T) {
	for name, w := range map[string]WindowFunc{"hamming": HammingWindow, "hann": HannWindow, "blackman": BlackmanWindow} {
		taps := w(65)
		assert.Len(t, taps, 65, name)
		assert.InDelta(t, 1.0, taps[32], 1e-6, name)
		assert.InDelta(t, taps[0], taps[64], 1e-6, name)
	}
	assert.InDelta(t, 0.08, HammingWindow(11)[0], 1e-6)
	assert.Equal(t, []float32{1}, HannWindow(1))
}
