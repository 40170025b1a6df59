package instrument

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChannel(t *testing.T) {
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		assert.NoError(t, ValidateChannel(ch), "channel %d", ch)
	}
	for _, ch := range []int{-1, 0, 5, 100} {
		assert.ErrorIs(t, ValidateChannel(ch), ErrInvalidParameter, "channel %d", ch)
	}
}

func TestValidateTimebase(t *testing.T) {
	tests := []struct {
		v  float64
		ok bool
	}{
		{5e-9, true},
		{50, true},
		{1e-3, true},
		{4.9e-9, false},
		{50.0001, false},
		{0, false},
		{-1, false},
		{math.NaN(), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.v), func(t *testing.T) {
			err := ValidateTimebase(tt.v)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParameter)
			}
		})
	}
}

func TestValidateScale(t *testing.T) {
	assert.NoError(t, ValidateScale(10e-3))
	assert.NoError(t, ValidateScale(100))
	assert.ErrorIs(t, ValidateScale(9e-3), ErrInvalidParameter)
	assert.ErrorIs(t, ValidateScale(101), ErrInvalidParameter)
}

func TestValidateModes(t *testing.T) {
	assert.NoError(t, ValidateSweep(SweepSingle))
	assert.NoError(t, ValidateSweep(SweepAuto))
	assert.ErrorIs(t, ValidateSweep("FAST"), ErrInvalidParameter)
	assert.NoError(t, ValidateCounterMode(CounterFrequency))
	assert.ErrorIs(t, ValidateCounterMode("RPM"), ErrInvalidParameter)
	assert.ErrorIs(t, ValidateChannels(nil), ErrInvalidParameter)
	assert.ErrorIs(t, ValidateChannels([]int{1, 5}), ErrInvalidParameter)
	assert.ErrorIs(t, ValidateFinite("level", math.Inf(1)), ErrInvalidParameter)
}

type nopInstrument struct{ Instrument }

func TestOpenWithFallback(t *testing.T) {
	live := &nopInstrument{}
	sim := &nopInstrument{}
	fallback := func() Instrument { return sim }

	got, fellBack, err := OpenWithFallback(func() (Instrument, error) { return live, nil }, fallback, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.Same(t, live, got)

	got, fellBack, err = OpenWithFallback(func() (Instrument, error) {
		return nil, fmt.Errorf("dial: %w", ErrConnectivity)
	}, fallback, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.Same(t, sim, got)

	boom := errors.New("boom")
	_, _, err = OpenWithFallback(func() (Instrument, error) { return nil, boom }, fallback, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
}
