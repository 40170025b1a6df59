package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/norasector/lightspeed/pkg/dsp/filters/fir"
	"github.com/norasector/lightspeed/pkg/dsp/mixer"
	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/racerxdl/segdsp/dsp"
)

const (
	defaultSamples   = 1000
	defaultTimebase  = 20e-9
	defaultScale     = 1.0
	defaultRotation  = 50.0
	defaultNoise     = 0.02
	defaultJitter    = 0.05
	defaultMaxPolls  = 3
	bandwidthDivisor = 25
)

// Options shape the synthesized acquisitions.
type Options struct {
	// Samples per trace.
	Samples int
	// Delay is the nominal lag of channel 2 behind channel 1 in seconds.
	Delay float64
	// Rotation is the nominal counter reading in Hz.
	Rotation float64
	// Noise is the additive noise amplitude relative to the edge height. Zero
	// selects the default, a negative value disables noise.
	Noise float64
	// Jitter is the relative spread of the delay and the counter reading.
	Jitter float64
	// MaxPolls bounds how many IsTriggerDone polls an armed sweep takes.
	MaxPolls int
	Seed     int64
}

// OptionsFromConfig sizes the traces like the real acquisition and delays
// channel 2 by the light travel time over the configured path.
func OptionsFromConfig(c config.Acquisition) Options {
	multiplier := c.Path.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return Options{
		Samples: c.Samples,
		Delay:   c.Path.Length * float64(multiplier) / measurement.SpeedOfLight,
	}
}

type channelState struct {
	enabled bool
	scale   float64
	offset  float64
}

// Simulator synthesizes a chopped beam seen by two photodiodes: channel 2 is
// channel 1 delayed by the light travel time, both band limited and noisy.
type Simulator struct {
	opts Options

	mu            sync.Mutex
	rng           *rand.Rand
	channels      [instrument.MaxChannel + 1]channelState
	timebase      float64
	triggerSource int
	triggerLevel  float64
	sweep         instrument.SweepMode
	running       bool
	pollsLeft     int
	armed         bool
	counter       struct {
		enabled bool
		channel int
		mode    instrument.CounterMode
	}
	taps []float32
}

func NewSimulator(opts Options) *Simulator {
	if opts.Samples <= 0 {
		opts.Samples = defaultSamples
	}
	if opts.Rotation <= 0 {
		opts.Rotation = defaultRotation
	}
	if opts.Noise < 0 {
		opts.Noise = 0
	} else if opts.Noise == 0 {
		opts.Noise = defaultNoise
	}
	if opts.Jitter <= 0 {
		opts.Jitter = defaultJitter
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = defaultMaxPolls
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	s := &Simulator{
		opts:          opts,
		rng:           rand.New(rand.NewSource(opts.Seed)),
		timebase:      defaultTimebase,
		triggerSource: 1,
		sweep:         instrument.SweepAuto,
		running:       true,
	}
	for ch := range s.channels {
		s.channels[ch] = channelState{enabled: ch == 1 || ch == 2, scale: defaultScale}
	}
	s.counter.channel = 1
	s.counter.mode = instrument.CounterFrequency

	// Rise time of a few samples.
	taps, err := fir.MakeLowPass(1.0, 1.0, 1.0/bandwidthDivisor, 1.0/bandwidthDivisor, fir.Hamming)
	if err != nil {
		panic(fmt.Sprintf("sim: edge filter: %v", err))
	}
	s.taps = taps

	return s
}

func (s *Simulator) Identify() (string, error) {
	return "LIGHTSPEED,SIMULATOR,0,1.0", nil
}

func (s *Simulator) SetChannelEnable(channel int, enabled bool) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels[channel].enabled = enabled
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetChannelScale(channel int, voltsPerDiv float64) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	if err := instrument.ValidateScale(voltsPerDiv); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels[channel].scale = voltsPerDiv
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetChannelOffset(channel int, volts float64) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	if err := instrument.ValidateFinite("offset", volts); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels[channel].offset = volts
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetTriggerSource(channel int) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	s.mu.Lock()
	s.triggerSource = channel
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetTriggerLevel(volts float64) error {
	if err := instrument.ValidateFinite("trigger level", volts); err != nil {
		return err
	}
	s.mu.Lock()
	s.triggerLevel = volts
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetTriggerSweep(mode instrument.SweepMode) error {
	if err := instrument.ValidateSweep(mode); err != nil {
		return err
	}
	s.mu.Lock()
	s.sweep = mode
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetTimebasePerDivision(seconds float64) error {
	if err := instrument.ValidateTimebase(seconds); err != nil {
		return err
	}
	s.mu.Lock()
	s.timebase = seconds
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetCounterEnable(enabled bool) error {
	s.mu.Lock()
	s.counter.enabled = enabled
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetCounterChannel(channel int) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	s.mu.Lock()
	s.counter.channel = channel
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetCounterMode(mode instrument.CounterMode) error {
	if err := instrument.ValidateCounterMode(mode); err != nil {
		return err
	}
	s.mu.Lock()
	s.counter.mode = mode
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Run() error {
	s.mu.Lock()
	s.running = true
	s.armed = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	s.running = false
	s.armed = false
	s.mu.Unlock()
	return nil
}

// Single arms one sweep; it completes after a random number of polls.
func (s *Simulator) Single() error {
	s.mu.Lock()
	s.armed = true
	s.running = false
	s.pollsLeft = s.rng.Intn(s.opts.MaxPolls + 1)
	s.mu.Unlock()
	return nil
}

func (s *Simulator) IsTriggerDone() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return !s.running, nil
	}
	if s.pollsLeft > 0 {
		s.pollsLeft--
		return false, nil
	}
	s.armed = false
	return true, nil
}

func (s *Simulator) QueryData(channels ...int) ([][]float64, error) {
	if err := instrument.ValidateChannels(channels); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.opts.Samples
	duration := s.timebase * instrument.HorizontalDivisions
	// one rising edge in the first half of the window
	edge := duration * (0.25 + 0.25*s.rng.Float64())
	delay := s.opts.Delay * (1 + s.opts.Jitter*s.rng.NormFloat64())

	ret := make([][]float64, 0, len(channels))
	for _, ch := range channels {
		var trace []float64
		switch ch {
		case 1:
			trace = s.edgeTrace(n, duration, edge)
		case 2:
			trace = s.edgeTrace(n, duration, edge+delay)
		default:
			trace = make([]float64, n)
		}

		state := s.channels[ch]
		amplitude := 1.5 * state.scale
		for i := range trace {
			trace[i] = amplitude*(trace[i]+s.opts.Noise*s.rng.NormFloat64()) + state.offset
		}
		ret = append(ret, trace)
	}

	return ret, nil
}

func (s *Simulator) edgeTrace(n int, duration, edge float64) []float64 {
	freq := 1 / (2 * duration)
	osc := mixer.NewOscillator(float64(n)/duration, freq, mixer.PhaseForRisingEdge(freq, edge))
	square := make([]float64, n)
	osc.Square(square)
	return s.bandLimit(square)
}

// bandLimit low-pass filters the trace. The filter is primed with the first
// value so the output does not start with a spurious edge.
func (s *Simulator) bandLimit(trace []float64) []float64 {
	if len(s.taps) == 0 || len(trace) == 0 {
		return trace
	}
	pad := len(s.taps)
	delay := pad / 2

	input := make([]float32, pad+len(trace)+delay)
	for i := range input {
		switch {
		case i < pad:
			input[i] = float32(trace[0])
		case i < pad+len(trace):
			input[i] = float32(trace[i-pad])
		default:
			input[i] = float32(trace[len(trace)-1])
		}
	}

	filter := dsp.MakeFloatFirFilter(s.taps)
	output := make([]float32, len(input)*2)
	length := filter.WorkBuffer(input, output)

	ret := make([]float64, len(trace))
	for i := range ret {
		j := pad + delay + i
		if j < length {
			ret[i] = float64(output[j])
		} else {
			ret[i] = trace[i]
		}
	}
	return ret
}

func (s *Simulator) QueryCounter() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.counter.enabled {
		return 0, nil
	}
	v := s.opts.Rotation * (1 + s.opts.Jitter*s.rng.NormFloat64())
	switch s.counter.mode {
	case instrument.CounterPeriod:
		if v == 0 {
			return math.Inf(1), nil
		}
		return 1 / v, nil
	case instrument.CounterTotalize:
		return math.Floor(v), nil
	}
	return v, nil
}

func (s *Simulator) Close() error {
	return nil
}

func (s *Simulator) String() string {
	return fmt.Sprintf("simulator(samples=%d, delay=%g)", s.opts.Samples, s.opts.Delay)
}
