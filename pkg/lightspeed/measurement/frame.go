package measurement

import (
	"errors"
	"time"
)

// SpeedOfLight is the reference constant in m/s.
const SpeedOfLight = 299792458.0

var ErrLengthMismatch = errors.New("channel trace lengths differ")

// Frame is one acquisition cycle. It is not modified after the acquisition
// loop hands it off, apart from the Estimate attached by the estimator.
type Frame struct {
	Seq       uint64
	Timestamp time.Time

	Channel1 []float64
	Channel2 []float64
	Timebase []float64

	CounterVelocity float64
	PathLength      float64
	PathMultiplier  int

	Estimate *Estimate
}

// Estimate is derived exactly once per accepted frame.
type Estimate struct {
	DelaySingle       float64
	SpeedSingle       float64
	SpeedAverage      float64
	SpeedAverageError float64
	DeviationPercent  float64
}

// Validate reports ErrLengthMismatch when the two traces (or the time axis)
// are of different lengths.
func (f *Frame) Validate() error {
	if len(f.Channel1) != len(f.Channel2) || len(f.Channel1) != len(f.Timebase) {
		return ErrLengthMismatch
	}
	return nil
}

// Distance is the total light path, pathLength * pathMultiplier.
func (f *Frame) Distance() float64 {
	return f.PathLength * float64(f.PathMultiplier)
}

// Duration is the span covered by the time axis.
func (f *Frame) Duration() float64 {
	if len(f.Timebase) < 2 {
		return 0
	}
	return f.Timebase[len(f.Timebase)-1] - f.Timebase[0]
}

// Linspace returns n evenly spaced values over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	ret := make([]float64, n)
	if n == 1 {
		ret[0] = start
		return ret
	}
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		ret[i] = start + float64(i)*step
	}
	ret[n-1] = stop
	return ret
}
