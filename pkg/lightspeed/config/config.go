package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

var ErrConfigurationMissing = errors.New("configuration missing")

const (
	AppName             = "lightspeed"
	AcquisitionFile     = "daq.yaml"
	DisplayFile         = "display.yaml"
	LeaderboardFile     = "leaderboard.yaml"
	DefaultHighscoreCSV = "highscores.csv"
)

type Mode string

const (
	ModeTriggered  Mode = "triggered"
	ModeContinuous Mode = "continuous"
)

type ChannelSettings struct {
	Offset float64 `yaml:"offset"`
	Scale  float64 `yaml:"scale"`
}

type Acquisition struct {
	Mode           Mode          `yaml:"mode"`
	Address        string        `yaml:"address"`
	BaudRate       int           `yaml:"baud_rate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Simulate       bool          `yaml:"simulate"`
	Samples        int           `yaml:"samples"`
	Timebase       float64       `yaml:"timebase"`
	Trigger        struct {
		Channel int     `yaml:"channel"`
		Level   float64 `yaml:"level"`
	} `yaml:"trigger"`
	Channels map[int]ChannelSettings `yaml:"channels"`
	Counter  struct {
		Channel int `yaml:"channel"`
	} `yaml:"counter"`
	MaxQueryRate    float64 `yaml:"max_query_rate"`
	ChopperDiameter float64 `yaml:"chopper_diameter"`
	Path            struct {
		Length     float64 `yaml:"length"`
		Multiplier int     `yaml:"multiplier"`
	} `yaml:"path"`
	SpinInterval time.Duration `yaml:"spin_interval"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Display struct {
	LastEstimatesCount int `yaml:"last_estimates_count"`
	AverageSamples     int `yaml:"average_samples"`
	MovingAverage      int `yaml:"moving_average"`
	Fit                struct {
		Enable  bool `yaml:"enable"`
		Primary bool `yaml:"primary"`
	} `yaml:"fit"`
	Plot struct {
		Width  float64 `yaml:"width"`
		Height float64 `yaml:"height"`
	} `yaml:"plot"`
	VizServer struct {
		Port int `yaml:"port"`
		// UpdateIntervalMS is the plot refresh period in milliseconds.
		UpdateIntervalMS int `yaml:"update_interval_ms"`
	} `yaml:"viz_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
	OutputDestinations []OutputDestination `yaml:"output_destinations"`
}

type Leaderboard struct {
	// VThreshold is in km/h.
	VThreshold float64 `yaml:"vthreshold"`
	TableSize  struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
	} `yaml:"tablesize"`
	HighscoreFile string `yaml:"highscorefile"`
	Lang          string `yaml:"lang"`
}

// DefaultDir is the per-user configuration directory.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

func DefaultAcquisition() Acquisition {
	var c Acquisition
	c.Mode = ModeTriggered
	c.BaudRate = 115200
	c.ConnectTimeout = 2 * time.Second
	c.ReadTimeout = 2 * time.Second
	c.Samples = 1000
	c.Timebase = 20e-9
	c.Trigger.Channel = 1
	c.Channels = map[int]ChannelSettings{
		1: {Scale: 1},
		2: {Scale: 1},
	}
	c.Counter.Channel = 3
	c.Path.Multiplier = 1
	c.SpinInterval = time.Millisecond
	c.DrainTimeout = 50 * time.Millisecond
	return c
}

func DefaultDisplay() Display {
	var c Display
	c.LastEstimatesCount = 100
	c.AverageSamples = 10
	c.Plot.Width = 8
	c.Plot.Height = 4
	c.VizServer.UpdateIntervalMS = 500
	return c
}

func DefaultLeaderboard() Leaderboard {
	var c Leaderboard
	c.VThreshold = 10
	c.TableSize.X = 1350
	c.TableSize.Y = 1400
	c.HighscoreFile = DefaultHighscoreCSV
	c.Lang = "en"
	return c
}

func LoadAcquisition(path string) (Acquisition, error) {
	c := DefaultAcquisition()
	if err := load(path, &c); err != nil {
		return c, err
	}
	for ch, s := range c.Channels {
		if s.Scale == 0 {
			s.Scale = 1
			c.Channels[ch] = s
		}
	}
	if c.Path.Multiplier <= 0 {
		c.Path.Multiplier = 1
	}
	if c.SpinInterval <= 0 {
		c.SpinInterval = time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	return c, c.Validate()
}

func (c Acquisition) Validate() error {
	switch c.Mode {
	case ModeTriggered, ModeContinuous:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrConfigurationMissing, c.Mode)
	}
	if c.Path.Length <= 0 {
		return fmt.Errorf("%w: path.length must be positive", ErrConfigurationMissing)
	}
	if c.Timebase <= 0 {
		return fmt.Errorf("%w: timebase must be positive", ErrConfigurationMissing)
	}
	if c.MaxQueryRate < 0 || c.ChopperDiameter < 0 {
		return fmt.Errorf("%w: max_query_rate and chopper_diameter must not be negative", ErrConfigurationMissing)
	}
	return nil
}

// QueryPeriod is the minimum spacing between acquisition cycles, zero when
// unlimited.
func (c Acquisition) QueryPeriod() time.Duration {
	if c.MaxQueryRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.MaxQueryRate)
}

func LoadDisplay(path string) (Display, error) {
	c := DefaultDisplay()
	if err := load(path, &c); err != nil {
		return c, err
	}
	if c.LastEstimatesCount <= 0 || c.AverageSamples <= 0 {
		return c, fmt.Errorf("%w: last_estimates_count and average_samples must be positive", ErrConfigurationMissing)
	}
	if c.MovingAverage < 0 {
		return c, fmt.Errorf("%w: moving_average must not be negative", ErrConfigurationMissing)
	}
	if c.VizServer.UpdateIntervalMS <= 0 {
		return c, fmt.Errorf("%w: viz_server.update_interval_ms must be positive", ErrConfigurationMissing)
	}
	return c, nil
}

// UpdateInterval is the viz server refresh period.
func (c Display) UpdateInterval() time.Duration {
	return time.Duration(c.VizServer.UpdateIntervalMS) * time.Millisecond
}

func LoadLeaderboard(path string) (Leaderboard, error) {
	c := DefaultLeaderboard()
	if err := load(path, &c); err != nil {
		return c, err
	}
	if c.HighscoreFile == "" {
		c.HighscoreFile = DefaultHighscoreCSV
	}
	if !filepath.IsAbs(c.HighscoreFile) {
		c.HighscoreFile = filepath.Join(filepath.Dir(path), c.HighscoreFile)
	}
	return c, nil
}

func load(path string, out interface{}) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	if err := yaml.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigurationMissing, path, err)
	}
	return nil
}
