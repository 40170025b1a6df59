package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/norasector/lightspeed/pkg/lightspeed"
	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument/scpi"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument/sim"
	"github.com/norasector/lightspeed/pkg/lightspeed/output"
	"github.com/norasector/lightspeed/pkg/util"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	defaultDir, err := config.DefaultDir()
	if err != nil {
		defaultDir = "."
	}
	configDir := flag.String("config-dir", defaultDir, "directory holding daq.yaml, display.yaml and leaderboard.yaml")
	simulate := flag.Bool("simulate", false, "use the simulated instrument")
	debug := flag.Bool("debug", false, "debug logging")
	recordLocation := flag.String("record", "", "append binary estimate records to this file")
	flag.Parse()

	if *debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	var opts lightspeed.Options

	if c, err := config.LoadAcquisition(filepath.Join(*configDir, config.AcquisitionFile)); err != nil {
		log.Error().Err(err).Str("process", "acquisition").Msg("failed to load configuration")
	} else {
		opts.Acquisition = &c
	}
	if c, err := config.LoadDisplay(filepath.Join(*configDir, config.DisplayFile)); err != nil {
		log.Error().Err(err).Str("process", "display").Msg("failed to load configuration")
	} else {
		opts.Display = &c
	}
	if c, err := config.LoadLeaderboard(filepath.Join(*configDir, config.LeaderboardFile)); err != nil {
		log.Error().Err(err).Str("process", "leaderboard").Msg("failed to load configuration")
	} else {
		opts.Leaderboard = &c
	}

	var inst instrument.Instrument
	if c := opts.Acquisition; c != nil {
		newSimulator := func() instrument.Instrument {
			return sim.NewSimulator(sim.OptionsFromConfig(*c))
		}
		if *simulate || c.Simulate {
			log.Info().Str("device", "simulator").Msg("initializing device...")
			inst = newSimulator()
		} else {
			log.Info().Str("device", "scpi").Str("address", c.Address).Msg("initializing device...")
			var simulated bool
			inst, simulated, err = instrument.OpenWithFallback(func() (instrument.Instrument, error) {
				conn, err := scpi.Dial(context.Background(), c.Address, c.BaudRate, c.ConnectTimeout)
				if err != nil {
					return nil, err
				}
				return scpi.NewOscilloscope(conn, scpi.WithLogger(log.Logger), scpi.WithReadTimeout(c.ReadTimeout))
			}, newSimulator, log.Logger)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to initialize instrument")
			}
			if simulated {
				log.Warn().Msg("running on the simulator")
			}
		}
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	lsOpts := []lightspeed.LightspeedOption{lightspeed.WithLogger(log.Logger)}

	if c := opts.Display; c != nil {
		if c.InfluxDB.Host != "" {
			writeAPI = influxdb2.NewClient(c.InfluxDB.Host, "").WriteAPI(c.InfluxDB.Organization, c.InfluxDB.Bucket)
			defer writeAPI.Flush()
		}
		if c.VizServer.Port > 0 {
			lsOpts = append(lsOpts, lightspeed.WithImageServer(viz.NewServer(c.VizServer.Port, c.UpdateInterval())))
		}
		if len(c.OutputDestinations) > 0 {
			opts.Outputs = append(opts.Outputs, output.NewEstimateUDPOutput(c.OutputDestinations, writeAPI))
		}
	}
	lsOpts = append(lsOpts, lightspeed.WithInfluxDB(writeAPI))

	if *recordLocation != "" {
		f, err := os.OpenFile(*recordLocation, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("file", *recordLocation).Msg("failed to open record file")
		}
		defer f.Close()
		opts.Outputs = append(opts.Outputs, output.NewSimpleEstimateOutput(f, 0))
	}

	ls, err := lightspeed.NewLightspeed(inst, opts, lsOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline")
	}

	eg, ctx := errgroup.WithContext(context.Background())
	done := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("interrupted, shutting down")
			return ls.Stop()
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	eg.Go(func() error {
		defer close(done)
		return ls.Start(ctx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exited program")
	}
}
