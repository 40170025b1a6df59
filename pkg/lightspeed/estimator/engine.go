// Package estimator turns acquisition frames into speed of light estimates.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/norasector/lightspeed/pkg/dsp/correlate"
	"github.com/norasector/lightspeed/pkg/dsp/filters/movavg"
	"github.com/norasector/lightspeed/pkg/dsp/fit"
	"github.com/norasector/lightspeed/pkg/dsp/normalize"
	"github.com/norasector/lightspeed/pkg/dsp/processor"
	"github.com/norasector/lightspeed/pkg/dsp/ring"
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxVelocity bounds plausible chopper velocities in m/s; anything outside
// [0, MaxVelocity] reads as 0.
const MaxVelocity = 1e8

var ErrTraceTooShort = errors.New("trace too short")

type Options struct {
	// LastEstimatesCount is the length of the display histories.
	LastEstimatesCount int
	// AverageSamples is the length of the delay averaging window.
	AverageSamples int
	// MovingAverage is the smoothing kernel width, 0 to disable.
	MovingAverage int
	// Fit enables the Gaussian estimator; FitPrimary makes its FWHM the
	// reported delay.
	Fit        bool
	FitPrimary bool
}

// History is the set of display buffers, newest value first.
type History struct {
	Delay             *ring.Buffer
	SpeedSingle       *ring.Buffer
	SpeedAverage      *ring.Buffer
	SpeedAverageError *ring.Buffer
	Deviation         *ring.Buffer
	ChopperSpeed      *ring.Buffer
}

func newHistory(size int) History {
	return History{
		Delay:             ring.New(size),
		SpeedSingle:       ring.New(size),
		SpeedAverage:      ring.New(size),
		SpeedAverageError: ring.New(size),
		Deviation:         ring.New(size),
		ChopperSpeed:      ring.New(size),
	}
}

// Analysis holds the intermediate traces of the last processed frame.
type Analysis struct {
	Timebase    []float64
	Channel1    []float64
	Channel2    []float64
	Diff        []float64
	Correlation []float64
	Fit         *fit.Gaussian
	CorrDelay   float64
}

// Engine is the single owner of the rolling buffers. Process must be called
// from one goroutine; the snapshot accessors may be called from others.
type Engine struct {
	opts      Options
	logger    zerolog.Logger
	vizServer *viz.Server

	ch1 *processor.Processor
	ch2 *processor.Processor

	mu        sync.RWMutex
	averaging *ring.Buffer
	history   History
	last      *Analysis

	plots *plots
}

type EngineOption func(e *Engine) error

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithImageServer publishes traces and histories as plots.
func WithImageServer(vizServer *viz.Server, width, height float64) EngineOption {
	return func(e *Engine) error {
		e.vizServer = vizServer
		e.plots = newPlots(e.opts.LastEstimatesCount, width, height)
		return nil
	}
}

func NewEngine(opts Options, engineOpts ...EngineOption) (*Engine, error) {
	if opts.LastEstimatesCount <= 0 || opts.AverageSamples <= 0 {
		return nil, fmt.Errorf("history and averaging lengths must be positive")
	}
	if opts.MovingAverage < 0 {
		return nil, fmt.Errorf("moving average width must not be negative")
	}

	e := &Engine{
		opts:      opts,
		logger:    log.Logger,
		averaging: ring.New(opts.AverageSamples),
		history:   newHistory(opts.LastEstimatesCount),
	}

	for _, opt := range engineOpts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	e.ch1 = processor.NewProcessor("channel1", "Channel 1", e.vizServer)
	e.ch2 = processor.NewProcessor("channel2", "Channel 2", e.vizServer)
	if opts.MovingAverage > 1 {
		e.ch1.AddBlock(processor.NewDSPWorker("smooth1", "Channel 1 smoothed", movavg.NewMovingAverage(opts.MovingAverage)))
		e.ch2.AddBlock(processor.NewDSPWorker("smooth2", "Channel 2 smoothed", movavg.NewMovingAverage(opts.MovingAverage)))
	}
	if err := e.ch1.Initialize(); err != nil {
		return nil, err
	}
	if err := e.ch2.Initialize(); err != nil {
		return nil, err
	}
	if e.plots != nil {
		e.plots.register(e.vizServer)
	}

	return e, nil
}

// Process derives the estimate for f, attaches it and updates the buffers.
// metrics, if non-nil, receives per stage timings.
func (e *Engine) Process(f *measurement.Frame, metrics map[string]interface{}) (*measurement.Estimate, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	a, err := e.analyze(f, metrics)
	if err != nil {
		return nil, err
	}

	delay := a.CorrDelay
	if a.Fit != nil && e.opts.FitPrimary {
		delay = a.Fit.FWHM()
	}

	velocity := ClampVelocity(f.CounterVelocity)

	e.mu.Lock()
	est := e.record(delay, velocity, f.Distance())
	e.last = a
	e.mu.Unlock()

	f.Estimate = &est

	if e.plots != nil {
		e.plots.update(a, e.History())
	}

	return &est, nil
}

func (e *Engine) analyze(f *measurement.Frame, metrics map[string]interface{}) (*Analysis, error) {
	if len(f.Channel1) < 2 {
		return nil, ErrTraceTooShort
	}

	ch1, err := e.ch1.Process(f.Channel1, metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTraceTooShort, err)
	}
	ch2, err := e.ch2.Process(f.Channel2, metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTraceTooShort, err)
	}
	if len(ch1) < 2 {
		return nil, ErrTraceTooShort
	}
	timebase := f.Timebase[:len(ch1)]

	n1 := normalize.Unit(ch1)
	n2 := normalize.Unit(ch2)

	a := &Analysis{
		Timebase: timebase,
		Channel1: n1,
		Channel2: n2,
		Diff:     normalize.Diff(n1, n2),
	}

	a.Correlation = correlate.Full(normalize.Extend(n1), normalize.Extend(n2))
	duration := timebase[len(timebase)-1] - timebase[0]
	a.CorrDelay = PeakDelay(a.Correlation, duration)

	if e.opts.Fit {
		g, err := fit.FitGaussian(timebase, a.Diff)
		if err != nil {
			e.logger.Debug().Err(err).Msg("gaussian fit failed, using correlation delay")
		} else {
			a.Fit = &g
		}
	}

	return a, nil
}

// PeakDelay maps the correlation peak onto an axis spanning
// [-2*duration, 2*duration] and returns the negated axis value, so a
// positive delay means channel 2 lags channel 1.
func PeakDelay(correlation []float64, duration float64) float64 {
	n := len(correlation)
	if n < 2 {
		return 0
	}
	k := correlate.PeakIndex(correlation)
	// axis value without accumulating linspace rounding; the centre is
	// exactly zero
	axis := 2 * duration * float64(2*k-(n-1)) / float64(n-1)
	return -axis
}

// ClampVelocity maps implausible or non-finite velocities to 0.
func ClampVelocity(v float64) float64 {
	if math.IsNaN(v) || v < 0 || v > MaxVelocity {
		return 0
	}
	return v
}

// record updates the averaging window and the histories. Callers hold mu.
func (e *Engine) record(delay, velocity, distance float64) measurement.Estimate {
	est := measurement.Estimate{
		DelaySingle:      delay,
		DeviationPercent: 100,
	}

	if delay != 0 {
		est.SpeedSingle = distance / delay

		e.averaging.Push(delay)
		mean, std := e.averaging.MeanStd()
		if mean != 0 {
			est.SpeedAverage = distance / mean
			est.SpeedAverageError = distance / (mean * mean) * std
			est.DeviationPercent = math.Abs(math.Abs(est.SpeedAverage)-measurement.SpeedOfLight) / measurement.SpeedOfLight * 100
		}
	}

	e.history.Delay.Push(est.DelaySingle)
	e.history.SpeedSingle.Push(est.SpeedSingle)
	e.history.SpeedAverage.Push(est.SpeedAverage)
	e.history.SpeedAverageError.Push(est.SpeedAverageError)
	e.history.Deviation.Push(est.DeviationPercent)
	e.history.ChopperSpeed.Push(velocity)

	return est
}

// HistorySnapshot is a copy of the display buffers, newest first.
type HistorySnapshot struct {
	Delay             []float64
	SpeedSingle       []float64
	SpeedAverage      []float64
	SpeedAverageError []float64
	Deviation         []float64
	ChopperSpeed      []float64
}

func (e *Engine) History() HistorySnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return HistorySnapshot{
		Delay:             e.history.Delay.Values(),
		SpeedSingle:       e.history.SpeedSingle.Values(),
		SpeedAverage:      e.history.SpeedAverage.Values(),
		SpeedAverageError: e.history.SpeedAverageError.Values(),
		Deviation:         e.history.Deviation.Values(),
		ChopperSpeed:      e.history.ChopperSpeed.Values(),
	}
}

// Averaging returns the delays in the averaging window, newest first.
func (e *Engine) Averaging() []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.averaging.Values()
}

func (e *Engine) LastAnalysis() *Analysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Reset clears the averaging window and the histories.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.averaging.Reset()
	e.history = newHistory(e.opts.LastEstimatesCount)
	e.last = nil
	e.mu.Unlock()
}
