package mixer

import (
	"math"
)

const (
	tau float64 = math.Pi * 2
)

// Oscillator is a real valued phase accumulator.
type Oscillator struct {
	sampleRate     float64
	frequency      float64
	phase          float64
	phaseIncrement float64
}

func (o *Oscillator) incrementPhase() {
	o.phase += o.phaseIncrement
	if o.phase > tau {
		o.phase -= tau
	} else if o.phase < -tau {
		o.phase += tau
	}
}

// NewOscillator starts at the given phase in radians.
func NewOscillator(sampleRate float64, frequency float64, phase float64) *Oscillator {
	return &Oscillator{
		sampleRate:     sampleRate,
		frequency:      frequency,
		phaseIncrement: frequency * tau / sampleRate,
		phase:          phase,
	}
}

// PhaseForRisingEdge is the starting phase that puts an upward zero crossing
// at time t.
func PhaseForRisingEdge(frequency, t float64) float64 {
	return -tau * frequency * t
}

func (o *Oscillator) Sine(output []float64) int {
	for i := range output {
		output[i] = math.Sin(o.phase)
		o.incrementPhase()
	}
	return len(output)
}

// Square fills output with +1/-1 following the sign of the sine.
func (o *Oscillator) Square(output []float64) int {
	for i := range output {
		if math.Sin(o.phase) >= 0 {
			output[i] = 1
		} else {
			output[i] = -1
		}
		o.incrementPhase()
	}
	return len(output)
}
