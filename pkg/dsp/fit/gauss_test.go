package fit

import (
	"math"
	"testing"

	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitGaussian(t *testing.T) {
	want := Gaussian{Amplitude: 0.8, Center: 0.9e-7, Sigma: 1e-8, Offset: 0.1}
	tb := measurement.Linspace(0, 2e-7, 400)
	y := make([]float64, len(tb))
	for i := range tb {
		y[i] = want.At(tb[i])
	}

	got, err := FitGaussian(tb, y)
	require.NoError(t, err)
	assert.InEpsilon(t, want.Amplitude, got.Amplitude, 0.02)
	assert.InEpsilon(t, want.Center, got.Center, 0.02)
	assert.InEpsilon(t, want.Sigma, got.Sigma, 0.02)
	assert.InDelta(t, want.Offset, got.Offset, 0.01)
	assert.InEpsilon(t, want.FWHM(), got.FWHM(), 0.02)
}

func TestFitNegativePulse(t *testing.T) {
	want := Gaussian{Amplitude: -1, Center: 5, Sigma: 0.7, Offset: 0}
	tb := measurement.Linspace(0, 10, 200)
	y := make([]float64, len(tb))
	for i := range tb {
		y[i] = want.At(tb[i])
	}

	got, err := FitGaussian(tb, y)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.7, got.Sigma, 0.02)
	assert.InEpsilon(t, -1.0, got.Amplitude, 0.02)
}

func TestFWHM(t *testing.T) {
	g := Gaussian{Amplitude: 1, Sigma: -2}
	assert.InDelta(t, 2*2*math.Sqrt(2*math.Ln2), g.FWHM(), 1e-12)
}

func TestFitFailures(t *testing.T) {
	_, err := FitGaussian([]float64{0, 1, 2}, []float64{0, 1, 0})
	assert.ErrorIs(t, err, ErrFitFailed)

	_, err = FitGaussian([]float64{0, 1, 2, 3}, []float64{1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrFitFailed)

	_, err = FitGaussian([]float64{0, 0, 0, 0}, []float64{0, 1, 1, 0})
	assert.ErrorIs(t, err, ErrFitFailed)
}
