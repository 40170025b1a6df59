package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"equal", Frame{Channel1: []float64{1, 2}, Channel2: []float64{3, 4}, Timebase: []float64{0, 1}}, false},
		{"channel mismatch", Frame{Channel1: []float64{1, 2, 3}, Channel2: []float64{3, 4}, Timebase: []float64{0, 1}}, true},
		{"timebase mismatch", Frame{Channel1: []float64{1, 2}, Channel2: []float64{3, 4}, Timebase: []float64{0}}, true},
		{"empty", Frame{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLengthMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(-2, 2, 5)
	assert.Equal(t, []float64{-2, -1, 0, 1, 2}, got)
	assert.Nil(t, Linspace(0, 1, 0))
	assert.Equal(t, []float64{3}, Linspace(3, 4, 1))
}

func TestFrameDistanceAndDuration(t *testing.T) {
	f := Frame{PathLength: 12.5, PathMultiplier: 2, Timebase: Linspace(1e-6, 3e-6, 11)}
	assert.Equal(t, 25.0, f.Distance())
	assert.InDelta(t, 2e-6, f.Duration(), 1e-18)
	assert.Equal(t, 0.0, (&Frame{}).Duration())
}
