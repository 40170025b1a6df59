// Package acquisition drives an instrument and produces measurement frames.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/norasector/lightspeed/pkg/lightspeed/link"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateTriggeredWait
	StateContinuousRun
	StateEmitting
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateTriggeredWait:
		return "triggered_wait"
	case StateContinuousRun:
		return "continuous_run"
	case StateEmitting:
		return "emitting"
	case StateShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var errShutdownRequested = errors.New("shutdown requested")

// Loop owns the instrument. Frames go out on down; the consumer's shutdown
// request arrives on up and is acknowledged with a sentinel on down.
type Loop struct {
	inst     instrument.Instrument
	cfg      config.Acquisition
	down     *link.Link
	up       *link.Link
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	now      func() time.Time

	state     int32
	seq       uint64
	lastCycle time.Time

	emitted uint64
	dropped uint64
}

type LoopOption func(l *Loop) error

func WithLogger(logger zerolog.Logger) LoopOption {
	return func(l *Loop) error {
		l.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) LoopOption {
	return func(l *Loop) error {
		l.writeAPI = writeAPI
		return nil
	}
}

func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) error {
		l.now = now
		return nil
	}
}

func NewLoop(inst instrument.Instrument, cfg config.Acquisition, down, up *link.Link, opts ...LoopOption) (*Loop, error) {
	l := &Loop{
		inst:     inst,
		cfg:      cfg,
		down:     down,
		up:       up,
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if l.cfg.SpinInterval <= 0 {
		l.cfg.SpinInterval = link.DefaultSpinInterval
	}
	if l.cfg.Path.Multiplier <= 0 {
		l.cfg.Path.Multiplier = 1
	}

	return l, nil
}

func (l *Loop) State() State {
	return State(atomic.LoadInt32(&l.state))
}

func (l *Loop) setState(s State) {
	prev := State(atomic.SwapInt32(&l.state, int32(s)))
	if prev != s {
		l.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("acquisition state")
	}
}

// Emitted and Dropped count frames handed to the consumer and frames lost to
// backpressure or bad acquisitions.
func (l *Loop) Emitted() uint64 {
	return atomic.LoadUint64(&l.emitted)
}

func (l *Loop) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Run configures the instrument once and then acquires until the consumer
// asks for shutdown. A configuration failure is returned after the sentinel
// has been sent downstream. ctx cancellation is a hard stop without the
// handshake.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateConfiguring)
	if err := l.configure(); err != nil {
		l.logger.Error().Err(err).Msg("failed to configure instrument")
		l.setState(StateShuttingDown)
		if cerr := l.down.Close(ctx); cerr != nil {
			return cerr
		}
		return err
	}

	for {
		err := l.cycle(ctx)
		switch {
		case err == errShutdownRequested:
			l.setState(StateShuttingDown)
			l.logger.Info().
				Uint64("emitted", l.Emitted()).
				Uint64("dropped", l.Dropped()).
				Msg("shutdown requested, acknowledging")
			return l.down.Close(ctx)
		case err != nil:
			return err
		}
	}
}

type configStep struct {
	name string
	do   func() error
}

func (l *Loop) configure() error {
	c := l.cfg
	steps := []configStep{
		{"timebase", func() error { return l.inst.SetTimebasePerDivision(c.Timebase) }},
		{"trigger source", func() error { return l.inst.SetTriggerSource(c.Trigger.Channel) }},
		{"trigger level", func() error { return l.inst.SetTriggerLevel(c.Trigger.Level) }},
	}
	for _, ch := range []int{1, 2} {
		ch := ch
		settings, ok := c.Channels[ch]
		if !ok {
			continue
		}
		steps = append(steps,
			configStep{fmt.Sprintf("channel %d offset", ch), func() error { return l.inst.SetChannelOffset(ch, settings.Offset) }},
			configStep{fmt.Sprintf("channel %d scale", ch), func() error { return l.inst.SetChannelScale(ch, settings.Scale) }},
		)
	}
	steps = append(steps,
		configStep{"counter enable", func() error { return l.inst.SetCounterEnable(true) }},
		configStep{"counter channel", func() error { return l.inst.SetCounterChannel(c.Counter.Channel) }},
		configStep{"counter mode", func() error { return l.inst.SetCounterMode(instrument.CounterFrequency) }},
	)

	if c.Mode == config.ModeTriggered {
		steps = append(steps, configStep{"sweep", func() error { return l.inst.SetTriggerSweep(instrument.SweepSingle) }})
	} else {
		steps = append(steps,
			configStep{"sweep", func() error { return l.inst.SetTriggerSweep(instrument.SweepAuto) }},
			configStep{"run", l.inst.Run},
		)
	}

	for _, step := range steps {
		if err := step.do(); err != nil {
			return fmt.Errorf("configure %s: %w", step.name, err)
		}
	}
	l.logger.Info().
		Str("mode", string(c.Mode)).
		Float64("timebase", c.Timebase).
		Int("trigger_channel", c.Trigger.Channel).
		Float64("max_query_rate", c.MaxQueryRate).
		Msg("instrument configured")
	return nil
}

// cycle runs one acquisition. Failures that only cost the current frame are
// logged and swallowed.
func (l *Loop) cycle(ctx context.Context) error {
	if l.cfg.Mode == config.ModeTriggered {
		l.setState(StateTriggeredWait)
	} else {
		l.setState(StateContinuousRun)
	}

	if l.shutdownRequested() {
		return errShutdownRequested
	}
	if err := l.waitForRate(ctx); err != nil {
		return err
	}
	start := l.now()
	l.lastCycle = start

	if l.cfg.Mode == config.ModeTriggered {
		ready, err := l.waitForTrigger(ctx)
		if err != nil || !ready {
			return err
		}
	}

	l.setState(StateEmitting)
	frame, err := l.acquire(start)
	if err != nil {
		atomic.AddUint64(&l.dropped, 1)
		l.logger.Warn().Err(err).Msg("dropping acquisition")
		l.writeMetrics(start, false)
		return l.spin(ctx)
	}

	if l.shutdownRequested() {
		return errShutdownRequested
	}

	if err := l.down.Send(frame, l.cfg.DrainTimeout); err != nil {
		atomic.AddUint64(&l.dropped, 1)
		l.logger.Debug().Uint64("seq", frame.Seq).Err(err).Msg("consumer busy, frame dropped")
		l.writeMetrics(start, false)
		return nil
	}
	atomic.AddUint64(&l.emitted, 1)
	l.writeMetrics(start, true)
	return nil
}

// waitForRate spins until 1/max_query_rate has passed since the previous
// cycle started.
func (l *Loop) waitForRate(ctx context.Context) error {
	period := l.cfg.QueryPeriod()
	if period <= 0 || l.lastCycle.IsZero() {
		return nil
	}
	for l.now().Sub(l.lastCycle) < period {
		if l.shutdownRequested() {
			return errShutdownRequested
		}
		if err := l.spin(ctx); err != nil {
			return err
		}
	}
	return nil
}

// waitForTrigger arms a single sweep and polls until it completes. It
// returns false without error when the cycle should be skipped.
func (l *Loop) waitForTrigger(ctx context.Context) (bool, error) {
	if err := l.inst.Single(); err != nil {
		atomic.AddUint64(&l.dropped, 1)
		l.logger.Warn().Err(err).Msg("failed to arm trigger")
		return false, l.spin(ctx)
	}
	for {
		done, err := l.inst.IsTriggerDone()
		if err != nil {
			atomic.AddUint64(&l.dropped, 1)
			l.logger.Warn().Err(err).Msg("trigger poll failed")
			return false, nil
		}
		if done {
			return true, nil
		}
		if l.shutdownRequested() {
			return false, errShutdownRequested
		}
		if err := l.spin(ctx); err != nil {
			return false, err
		}
	}
}

func (l *Loop) acquire(start time.Time) (*measurement.Frame, error) {
	data, err := l.inst.QueryData(1, 2)
	if err != nil {
		return nil, fmt.Errorf("query data: %w", err)
	}
	if len(data) != 2 {
		return nil, fmt.Errorf("query data: %w: got %d traces", instrument.ErrProtocol, len(data))
	}
	counter, err := l.inst.QueryCounter()
	if err != nil {
		return nil, fmt.Errorf("query counter: %w", err)
	}

	ch1, ch2 := data[0], data[1]
	if len(ch1) != len(ch2) {
		return nil, fmt.Errorf("%w: %d vs %d samples", measurement.ErrLengthMismatch, len(ch1), len(ch2))
	}
	if len(ch1) == 0 {
		return nil, fmt.Errorf("query data: %w: empty traces", instrument.ErrProtocol)
	}

	velocity := counter
	if l.cfg.ChopperDiameter > 0 {
		velocity = counter * math.Pi * l.cfg.ChopperDiameter
	}

	l.seq++
	return &measurement.Frame{
		Seq:             l.seq,
		Timestamp:       start,
		Channel1:        ch1,
		Channel2:        ch2,
		Timebase:        measurement.Linspace(0, l.cfg.Timebase*instrument.HorizontalDivisions, len(ch1)),
		CounterVelocity: velocity,
		PathLength:      l.cfg.Path.Length,
		PathMultiplier:  l.cfg.Path.Multiplier,
	}, nil
}

// shutdownRequested does a non-blocking check for the consumer's sentinel.
func (l *Loop) shutdownRequested() bool {
	msg, err := l.up.TryReceive()
	return err == nil && msg == nil
}

func (l *Loop) spin(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.cfg.SpinInterval):
		return nil
	}
}

func (l *Loop) writeMetrics(start time.Time, sent bool) {
	sentValue := 0
	if sent {
		sentValue = 1
	}
	l.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.frame",
		map[string]string{"mode": string(l.cfg.Mode)},
		map[string]interface{}{
			"sent":     sentValue,
			"emitted":  int64(l.Emitted()),
			"dropped":  int64(l.Dropped()),
			"duration": l.now().Sub(start).Microseconds(),
		},
		l.now()))
}
