// Package lightspeed wires the acquisition loop, the estimator and the
// leaderboard together.
package lightspeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/norasector/lightspeed/pkg/lightspeed/acquisition"
	"github.com/norasector/lightspeed/pkg/lightspeed/display"
	"github.com/norasector/lightspeed/pkg/lightspeed/estimator"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/norasector/lightspeed/pkg/lightspeed/leaderboard"
	"github.com/norasector/lightspeed/pkg/lightspeed/link"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const stopTimeout = 5 * time.Second

type Lightspeed struct {
	inst      instrument.Instrument
	opts      Options
	writeAPI  api.WriteAPI
	vizServer *viz.Server
	logger    zerolog.Logger

	// frames: acquisition -> consumer, requests: consumer -> acquisition,
	// scores: consumer -> leaderboard.
	frames   *link.Link
	requests *link.Link
	scores   *link.Link

	loop     *acquisition.Loop
	engine   *estimator.Engine
	consumer *display.Consumer
	board    *leaderboard.Board

	stopOnce sync.Once
	stopErr  error
}

type LightspeedOption func(l *Lightspeed) error

func WithInfluxDB(writeAPI api.WriteAPI) LightspeedOption {
	return func(l *Lightspeed) error {
		l.writeAPI = writeAPI
		return nil
	}
}

func WithImageServer(vizServer *viz.Server) LightspeedOption {
	return func(l *Lightspeed) error {
		l.vizServer = vizServer
		return nil
	}
}

func WithLogger(logger zerolog.Logger) LightspeedOption {
	return func(l *Lightspeed) error {
		l.logger = logger
		return nil
	}
}

// NewLightspeed builds the pipeline. inst may be nil when there is no
// acquisition configuration.
func NewLightspeed(inst instrument.Instrument, options Options, opts ...LightspeedOption) (*Lightspeed, error) {
	l := &Lightspeed{
		inst:     inst,
		opts:     options,
		writeAPI: &util.MockWriteAPI{},
		logger:   log.Logger,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	spin := link.DefaultSpinInterval
	if options.Acquisition != nil {
		spin = options.Acquisition.SpinInterval
	}
	l.frames = link.New("frames", spin)
	l.requests = link.New("requests", spin)
	if options.Leaderboard != nil {
		l.scores = link.New("scores", spin)
	}

	if c := options.Acquisition; c != nil {
		if inst == nil {
			return nil, fmt.Errorf("acquisition configured without an instrument")
		}
		loop, err := acquisition.NewLoop(inst, *c, l.frames, l.requests,
			acquisition.WithLogger(l.logger.With().Str("process", "acquisition").Logger()),
			acquisition.WithInfluxDB(l.writeAPI))
		if err != nil {
			return nil, err
		}
		l.loop = loop
	}

	if c := options.Display; c != nil {
		engineOpts := []estimator.EngineOption{
			estimator.WithLogger(l.logger.With().Str("process", "display").Logger()),
		}
		if l.vizServer != nil {
			engineOpts = append(engineOpts, estimator.WithImageServer(l.vizServer, c.Plot.Width, c.Plot.Height))
		}
		engine, err := estimator.NewEngine(estimator.Options{
			LastEstimatesCount: c.LastEstimatesCount,
			AverageSamples:     c.AverageSamples,
			MovingAverage:      c.MovingAverage,
			Fit:                c.Fit.Enable,
			FitPrimary:         c.Fit.Primary,
		}, engineOpts...)
		if err != nil {
			return nil, err
		}
		l.engine = engine

		sinks := make([]display.Sink, 0, len(options.Outputs))
		for _, o := range options.Outputs {
			sinks = append(sinks, o)
		}
		consumerOpts := []display.ConsumerOption{
			display.WithLogger(l.logger.With().Str("process", "display").Logger()),
			display.WithInfluxDB(l.writeAPI),
			display.WithSinks(sinks...),
		}
		if l.scores != nil {
			consumerOpts = append(consumerOpts, display.WithLeaderboard(l.scores))
		}
		if options.Acquisition != nil {
			consumerOpts = append(consumerOpts, display.WithDrainTimeout(options.Acquisition.DrainTimeout))
		}
		consumer, err := display.NewConsumer(engine, l.frames, l.requests, consumerOpts...)
		if err != nil {
			return nil, err
		}
		l.consumer = consumer
	}

	if c := options.Leaderboard; c != nil {
		board, err := leaderboard.NewBoard(*c, l.scores,
			leaderboard.WithLogger(l.logger.With().Str("process", "leaderboard").Logger()),
			leaderboard.WithInfluxDB(l.writeAPI))
		if err != nil {
			return nil, err
		}
		if l.vizServer != nil {
			board.RegisterRoutes(l.vizServer)
		}
		l.board = board
	}

	return l, nil
}

func (l *Lightspeed) Engine() *estimator.Engine {
	return l.engine
}

func (l *Lightspeed) Board() *leaderboard.Board {
	return l.board
}

func (l *Lightspeed) Loop() *acquisition.Loop {
	return l.loop
}

// Stop starts the shutdown handshake. Start returns once every process has
// seen its sentinel.
func (l *Lightspeed) Stop() error {
	l.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if l.consumer != nil {
			l.stopErr = l.consumer.RequestShutdown(ctx)
			return
		}
		l.logger.Info().Msg("no display process, nothing to stop")
	})
	return l.stopErr
}

// Start runs every configured process and blocks until the pipeline has shut
// down. Outputs and the viz server are stopped afterwards.
func (l *Lightspeed) Start(ctx context.Context) error {
	auxCtx, auxCancel := context.WithCancel(ctx)
	defer auxCancel()
	aux, auxCtx := errgroup.WithContext(auxCtx)

	if l.vizServer != nil {
		aux.Go(func() error {
			return l.vizServer.Run(auxCtx)
		})
	}
	for _, output := range l.opts.Outputs {
		thisOutput := output
		aux.Go(func() error {
			return thisOutput.Start(auxCtx)
		})
	}

	// A failing process does not cancel the others; they still finish
	// through the sentinels.
	var pipeline errgroup.Group
	pipeline.Go(func() error {
		return l.runAcquisition(ctx)
	})
	pipeline.Go(func() error {
		return l.runDisplay(ctx)
	})
	if l.board != nil {
		pipeline.Go(func() error {
			return l.board.Run(ctx)
		})
	}

	l.logger.Info().
		Bool("acquisition", l.loop != nil).
		Bool("display", l.consumer != nil).
		Bool("leaderboard", l.board != nil).
		Int("outputs", len(l.opts.Outputs)).
		Msg("starting")

	err := pipeline.Wait()

	auxCancel()
	if l.vizServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		l.vizServer.Stop(stopCtx)
		cancel()
	}
	if auxErr := aux.Wait(); auxErr != nil && !errors.Is(auxErr, context.Canceled) && err == nil {
		err = auxErr
	}

	if l.inst != nil {
		if cerr := l.inst.Close(); cerr != nil {
			l.logger.Warn().Err(cerr).Msg("error closing instrument")
		}
	}
	return err
}

func (l *Lightspeed) runAcquisition(ctx context.Context) error {
	if l.loop == nil {
		l.logger.Error().Str("process", "acquisition").Msg("no acquisition configuration, terminating")
		return l.frames.Close(ctx)
	}
	return l.loop.Run(ctx)
}

func (l *Lightspeed) runDisplay(ctx context.Context) error {
	if l.consumer == nil {
		l.logger.Error().Str("process", "display").Msg("no display configuration, terminating")
		return display.Drain(ctx, l.frames, l.requests, l.scores)
	}
	return l.consumer.Run(ctx)
}
