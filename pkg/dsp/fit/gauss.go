// Package fit fits a Gaussian with a constant offset to a sampled pulse.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

var ErrFitFailed = errors.New("gaussian fit failed")

// fwhmPerSigma is 2*sqrt(2*ln 2).
var fwhmPerSigma = 2 * math.Sqrt(2*math.Ln2)

// Gaussian is amplitude*exp(-(t-center)^2 / (2*sigma^2)) + offset.
type Gaussian struct {
	Amplitude float64
	Center    float64
	Sigma     float64
	Offset    float64
}

func (g Gaussian) At(t float64) float64 {
	d := (t - g.Center) / g.Sigma
	return g.Amplitude*math.Exp(-0.5*d*d) + g.Offset
}

// FWHM is the full width at half maximum.
func (g Gaussian) FWHM() float64 {
	return fwhmPerSigma * math.Abs(g.Sigma)
}

// FitGaussian least-squares fits y(t) with a Nelder-Mead search. The time
// axis is rescaled to [0, 1] internally.
func FitGaussian(t, y []float64) (Gaussian, error) {
	if len(t) != len(y) || len(t) < 4 {
		return Gaussian{}, fmt.Errorf("%w: need at least 4 matching samples", ErrFitFailed)
	}
	t0 := t[0]
	span := t[len(t)-1] - t0
	if span <= 0 {
		return Gaussian{}, fmt.Errorf("%w: time axis not increasing", ErrFitFailed)
	}
	u := make([]float64, len(t))
	for i := range t {
		u[i] = (t[i] - t0) / span
	}

	init, err := initialGuess(u, y)
	if err != nil {
		return Gaussian{}, err
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			g := Gaussian{Amplitude: x[0], Center: x[1], Sigma: x[2], Offset: x[3]}
			if g.Sigma == 0 {
				return math.Inf(1)
			}
			var sse float64
			for i := range u {
				r := g.At(u[i]) - y[i]
				sse += r * r
			}
			return sse
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 20000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
	x0 := []float64{init.Amplitude, init.Center, init.Sigma, init.Offset}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return Gaussian{}, fmt.Errorf("%w: %v", ErrFitFailed, err)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Gaussian{}, fmt.Errorf("%w: non-finite parameters", ErrFitFailed)
		}
	}

	return Gaussian{
		Amplitude: result.X[0],
		Center:    t0 + result.X[1]*span,
		Sigma:     math.Abs(result.X[2]) * span,
		Offset:    result.X[3],
	}, nil
}

// initialGuess takes the offset from the trace ends, the centre from the
// largest excursion and the width from the samples above half height.
func initialGuess(u, y []float64) (Gaussian, error) {
	offset := (y[0] + y[len(y)-1]) / 2
	peak := floats.MaxIdx(y)
	trough := floats.MinIdx(y)
	if math.Abs(y[trough]-offset) > math.Abs(y[peak]-offset) {
		peak = trough
	}
	amplitude := y[peak] - offset
	if amplitude == 0 {
		return Gaussian{}, fmt.Errorf("%w: flat trace", ErrFitFailed)
	}

	var above int
	for _, v := range y {
		if (v-offset)/amplitude >= 0.5 {
			above++
		}
	}
	step := u[1] - u[0]
	sigma := float64(above) * step / fwhmPerSigma
	if sigma <= 0 {
		sigma = step
	}

	return Gaussian{Amplitude: amplitude, Center: u[peak], Sigma: sigma, Offset: offset}, nil
}
