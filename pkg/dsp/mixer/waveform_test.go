package mixer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSine(t *testing.T) {
	o := NewOscillator(8, 1, 0)
	out := make([]float64, 9)
	o.Sine(out)
	want := []float64{0, math.Sqrt2 / 2, 1, math.Sqrt2 / 2, 0, -math.Sqrt2 / 2, -1, -math.Sqrt2 / 2, 0}
	assert.InDeltaSlice(t, want, out, 1e-9)
}

func TestSquareSingleRisingEdge(t *testing.T) {
	const (
		n        = 1000
		duration = 1e-6
		edge     = 0.4e-6
	)
	freq := 1 / (2 * duration)
	o := NewOscillator(n/duration, freq, PhaseForRisingEdge(freq, edge))
	out := make([]float64, n)
	o.Square(out)

	rising := 0
	at := -1
	for i := 1; i < n; i++ {
		if out[i-1] < 0 && out[i] > 0 {
			rising++
			at = i
		}
		assert.False(t, out[i-1] > 0 && out[i] < 0, "unexpected falling edge at %d", i)
	}
	assert.Equal(t, 1, rising)
	assert.InDelta(t, 400, at, 1)
}
