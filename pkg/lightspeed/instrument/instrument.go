package instrument

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrProtocol         = errors.New("protocol error")
	ErrConnectivity     = errors.New("instrument unreachable")
)

const (
	MinChannel = 1
	MaxChannel = 4

	MinTimebase = 5e-9
	MaxTimebase = 50.0

	MinChannelScale = 10e-3
	MaxChannelScale = 100.0

	// HorizontalDivisions is the number of timebase divisions on screen.
	HorizontalDivisions = 10
)

type SweepMode string

const (
	SweepSingle SweepMode = "SING"
	SweepAuto   SweepMode = "AUTO"
	SweepNormal SweepMode = "NORM"
)

type CounterMode string

const (
	CounterFrequency CounterMode = "FREQ"
	CounterPeriod    CounterMode = "PER"
	CounterTotalize  CounterMode = "TOT"
)

// Instrument is a two-channel oscilloscope with a frequency counter. Every
// setter validates its arguments and returns ErrInvalidParameter instead of
// clamping.
type Instrument interface {
	Identify() (string, error)

	SetChannelEnable(channel int, enabled bool) error
	SetChannelScale(channel int, voltsPerDiv float64) error
	SetChannelOffset(channel int, volts float64) error

	SetTriggerSource(channel int) error
	SetTriggerLevel(volts float64) error
	SetTriggerSweep(mode SweepMode) error
	SetTimebasePerDivision(seconds float64) error

	SetCounterEnable(enabled bool) error
	SetCounterChannel(channel int) error
	SetCounterMode(mode CounterMode) error

	Run() error
	Stop() error
	Single() error

	// IsTriggerDone does not block; callers poll it.
	IsTriggerDone() (bool, error)
	// QueryData returns one trace per requested channel, in request order.
	QueryData(channels ...int) ([][]float64, error)
	QueryCounter() (float64, error)

	Close() error
}

func ValidateChannel(channel int) error {
	if channel < MinChannel || channel > MaxChannel {
		return fmt.Errorf("%w: channel %d not in [%d, %d]", ErrInvalidParameter, channel, MinChannel, MaxChannel)
	}
	return nil
}

func ValidateTimebase(seconds float64) error {
	if math.IsNaN(seconds) || seconds < MinTimebase || seconds > MaxTimebase {
		return fmt.Errorf("%w: timebase %g s/div not in [%g, %g]", ErrInvalidParameter, seconds, MinTimebase, MaxTimebase)
	}
	return nil
}

func ValidateScale(voltsPerDiv float64) error {
	if math.IsNaN(voltsPerDiv) || voltsPerDiv < MinChannelScale || voltsPerDiv > MaxChannelScale {
		return fmt.Errorf("%w: scale %g V/div not in [%g, %g]", ErrInvalidParameter, voltsPerDiv, MinChannelScale, MaxChannelScale)
	}
	return nil
}

func ValidateFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite, got %g", ErrInvalidParameter, name, v)
	}
	return nil
}

func ValidateSweep(mode SweepMode) error {
	switch mode {
	case SweepSingle, SweepAuto, SweepNormal:
		return nil
	}
	return fmt.Errorf("%w: sweep mode %q", ErrInvalidParameter, string(mode))
}

func ValidateCounterMode(mode CounterMode) error {
	switch mode {
	case CounterFrequency, CounterPeriod, CounterTotalize:
		return nil
	}
	return fmt.Errorf("%w: counter mode %q", ErrInvalidParameter, string(mode))
}

// ValidateChannels checks a QueryData request.
func ValidateChannels(channels []int) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels requested", ErrInvalidParameter)
	}
	for _, ch := range channels {
		if err := ValidateChannel(ch); err != nil {
			return err
		}
	}
	return nil
}
