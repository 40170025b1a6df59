// Package display consumes acquisition frames, runs them through the
// estimator and fans the enriched frames out to the sinks and the
// leaderboard.
package display

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/lightspeed/pkg/lightspeed/estimator"
	"github.com/norasector/lightspeed/pkg/lightspeed/link"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultDrainTimeout = 50 * time.Millisecond

// Sink receives every enriched frame.
type Sink interface {
	Name() string
	Write(f *measurement.Frame) error
}

type Consumer struct {
	engine   *estimator.Engine
	in       *link.Link
	up       *link.Link
	out      *link.Link
	sinks    []Sink
	writeAPI api.WriteAPI
	logger   zerolog.Logger
	drain    time.Duration

	shutdownOnce sync.Once
	shutdownErr  error

	processed uint64
	failed    uint64
}

type ConsumerOption func(c *Consumer) error

func WithInfluxDB(writeAPI api.WriteAPI) ConsumerOption {
	return func(c *Consumer) error {
		c.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) ConsumerOption {
	return func(c *Consumer) error {
		c.logger = logger
		return nil
	}
}

func WithSinks(sinks ...Sink) ConsumerOption {
	return func(c *Consumer) error {
		c.sinks = append(c.sinks, sinks...)
		return nil
	}
}

// WithLeaderboard forwards enriched frames, and finally the sentinel, on out.
func WithLeaderboard(out *link.Link) ConsumerOption {
	return func(c *Consumer) error {
		c.out = out
		return nil
	}
}

func WithDrainTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) error {
		c.drain = d
		return nil
	}
}

// NewConsumer reads frames from in and sends its shutdown request on up.
func NewConsumer(engine *estimator.Engine, in, up *link.Link, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		engine:   engine,
		in:       in,
		up:       up,
		writeAPI: &util.MockWriteAPI{},
		logger:   log.Logger,
		drain:    defaultDrainTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Run processes frames until the acquisition side sends its sentinel, which
// is then passed on to the leaderboard.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		f, err := c.in.Receive(ctx)
		if err != nil {
			return err
		}
		if f == nil {
			c.logger.Info().
				Uint64("processed", atomic.LoadUint64(&c.processed)).
				Uint64("failed", atomic.LoadUint64(&c.failed)).
				Msg("acquisition finished")
			return c.closeLeaderboard(ctx)
		}
		c.handle(f)
	}
}

// RequestShutdown asks the acquisition loop to stop. Run keeps draining until
// the acknowledging sentinel arrives. Safe to call more than once.
func (c *Consumer) RequestShutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.logger.Info().Msg("requesting acquisition shutdown")
		c.shutdownErr = c.up.Close(ctx)
	})
	return c.shutdownErr
}

func (c *Consumer) Processed() uint64 {
	return atomic.LoadUint64(&c.processed)
}

func (c *Consumer) Failed() uint64 {
	return atomic.LoadUint64(&c.failed)
}

func (c *Consumer) handle(f *measurement.Frame) {
	metrics := make(map[string]interface{})

	var est *measurement.Estimate
	var err error
	elapsed := util.TimeOperationMicroseconds(func() {
		est, err = c.engine.Process(f, metrics)
	})
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		c.logger.Warn().Uint64("seq", f.Seq).Err(err).Msg("dropping frame")
		return
	}
	atomic.AddUint64(&c.processed, 1)

	c.logger.Debug().
		Uint64("seq", f.Seq).
		Float64("delay", est.DelaySingle).
		Float64("speed_single", est.SpeedSingle).
		Float64("speed_average", est.SpeedAverage).
		Float64("deviation_pct", est.DeviationPercent).
		Msg("estimate")

	for _, sink := range c.sinks {
		if err := sink.Write(f); err != nil {
			c.logger.Warn().Str("sink", sink.Name()).Err(err).Msg("sink write failed")
		}
	}

	metrics["process_duration"] = elapsed
	metrics["delay"] = est.DelaySingle
	metrics["speed_single"] = est.SpeedSingle
	metrics["speed_average"] = est.SpeedAverage
	metrics["speed_average_error"] = est.SpeedAverageError
	metrics["deviation_pct"] = est.DeviationPercent
	metrics["velocity"] = f.CounterVelocity
	c.writeAPI.WritePoint(influxdb2.NewPoint("estimate.processed", nil, metrics, time.Now()))

	if c.out != nil {
		if err := c.out.Send(f, c.drain); err != nil {
			c.logger.Debug().Uint64("seq", f.Seq).Err(err).Msg("leaderboard busy, frame dropped")
		}
	}
}

func (c *Consumer) closeLeaderboard(ctx context.Context) error {
	if c.out == nil {
		return nil
	}
	return c.out.Close(ctx)
}

// Drain is the consumer side of the shutdown handshake without an engine:
// it requests shutdown on up, discards frames until the sentinel arrives on
// in and then forwards a sentinel on out, if set.
func Drain(ctx context.Context, in, up, out *link.Link) error {
	if err := up.Close(ctx); err != nil {
		return err
	}
	for {
		f, err := in.Receive(ctx)
		if err != nil {
			return err
		}
		if f == nil {
			break
		}
	}
	if out != nil {
		return out.Close(ctx)
	}
	return nil
}
