package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readBufferSize     = 4096 * 10
	defaultReadTimeout = 2 * time.Second
)

// Oscilloscope drives a Rigol MSO5000 style scope over a line-oriented
// command channel.
type Oscilloscope struct {
	conn        io.ReadWriteCloser
	reader      *bufio.Reader
	logger      zerolog.Logger
	readTimeout time.Duration

	commandMu sync.Mutex
}

type Option func(o *Oscilloscope)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Oscilloscope) {
		o.logger = logger
	}
}

// WithReadTimeout bounds every command round trip. Connections without
// deadline support are not bounded.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Oscilloscope) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// NewOscilloscope takes ownership of conn, identifies the instrument, enables
// channels 1 and 2 and selects normal mode ASCII waveform transfers.
func NewOscilloscope(conn io.ReadWriteCloser, opts ...Option) (*Oscilloscope, error) {
	o := &Oscilloscope{
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, readBufferSize),
		logger:      log.Logger,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	idn, err := o.Identify()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: identify: %v", instrument.ErrConnectivity, err)
	}
	o.logger.Info().Str("idn", idn).Msg("connected to instrument")

	for ch := instrument.MinChannel; ch <= instrument.MaxChannel; ch++ {
		if err := o.SetChannelEnable(ch, ch <= 2); err != nil {
			conn.Close()
			return nil, err
		}
	}
	for _, cmd := range []string{":WAV:MODE NORM", ":WAV:FORM ASC"} {
		if err := o.command(cmd); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return o, nil
}

func (o *Oscilloscope) command(cmd string) error {
	o.commandMu.Lock()
	defer o.commandMu.Unlock()
	return o.write(cmd)
}

func (o *Oscilloscope) write(cmd string) error {
	o.setDeadline()
	if _, err := io.WriteString(o.conn, cmd+"\n"); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: write %q: %v", instrument.ErrProtocol, cmd, err)
		}
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (o *Oscilloscope) setDeadline() {
	if d, ok := o.conn.(deadliner); ok {
		if err := d.SetDeadline(time.Now().Add(o.readTimeout)); err != nil {
			o.logger.Debug().Err(err).Msg("failed to set deadline")
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// query sends cmd and reads the reply up to and including the trailing
// newline. The newline is stripped.
func (o *Oscilloscope) query(cmd string) (string, error) {
	o.commandMu.Lock()
	defer o.commandMu.Unlock()

	if err := o.write(cmd); err != nil {
		return "", err
	}
	reply, err := o.reader.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			// drop any partial line so the next reply starts clean
			o.reader.Reset(o.conn)
			return "", fmt.Errorf("%w: no reply to %q within %v", instrument.ErrProtocol, cmd, o.readTimeout)
		}
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func onOff(enabled bool) string {
	if enabled {
		return "ON"
	}
	return "OFF"
}

func (o *Oscilloscope) Identify() (string, error) {
	return o.query("*IDN?")
}

func (o *Oscilloscope) SetChannelEnable(channel int, enabled bool) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	return o.command(fmt.Sprintf(":CHAN%d:DISP %s", channel, onOff(enabled)))
}

func (o *Oscilloscope) SetChannelScale(channel int, voltsPerDiv float64) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	if err := instrument.ValidateScale(voltsPerDiv); err != nil {
		return err
	}
	return o.command(fmt.Sprintf(":CHAN%d:SCAL %s", channel, formatFloat(voltsPerDiv)))
}

func (o *Oscilloscope) SetChannelOffset(channel int, volts float64) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	if err := instrument.ValidateFinite("offset", volts); err != nil {
		return err
	}
	return o.command(fmt.Sprintf(":CHAN%d:OFFS %s", channel, formatFloat(volts)))
}

func (o *Oscilloscope) SetTriggerSource(channel int) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	return o.command(fmt.Sprintf(":TRIG:EDGE:SOUR CHAN%d", channel))
}

func (o *Oscilloscope) SetTriggerLevel(volts float64) error {
	if err := instrument.ValidateFinite("trigger level", volts); err != nil {
		return err
	}
	return o.command(":TRIG:EDGE:LEV " + formatFloat(volts))
}

func (o *Oscilloscope) SetTriggerSweep(mode instrument.SweepMode) error {
	if err := instrument.ValidateSweep(mode); err != nil {
		return err
	}
	return o.command(":TRIG:SWE " + string(mode))
}

func (o *Oscilloscope) SetTimebasePerDivision(seconds float64) error {
	if err := instrument.ValidateTimebase(seconds); err != nil {
		return err
	}
	return o.command(":TIM:MAIN:SCAL " + formatFloat(seconds))
}

func (o *Oscilloscope) SetCounterEnable(enabled bool) error {
	return o.command(":COUN:ENAB " + onOff(enabled))
}

func (o *Oscilloscope) SetCounterChannel(channel int) error {
	if err := instrument.ValidateChannel(channel); err != nil {
		return err
	}
	return o.command(fmt.Sprintf(":COUN:SOUR CHAN%d", channel))
}

func (o *Oscilloscope) SetCounterMode(mode instrument.CounterMode) error {
	if err := instrument.ValidateCounterMode(mode); err != nil {
		return err
	}
	return o.command(":COUN:MODE " + string(mode))
}

func (o *Oscilloscope) Run() error    { return o.command(":RUN") }
func (o *Oscilloscope) Stop() error   { return o.command(":STOP") }
func (o *Oscilloscope) Single() error { return o.command(":SING") }

func (o *Oscilloscope) IsTriggerDone() (bool, error) {
	status, err := o.query(":TRIG:STAT?")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(status) == "STOP", nil
}

func (o *Oscilloscope) QueryData(channels ...int) ([][]float64, error) {
	if err := instrument.ValidateChannels(channels); err != nil {
		return nil, err
	}

	ret := make([][]float64, 0, len(channels))
	for _, ch := range channels {
		if err := o.command(fmt.Sprintf(":WAV:SOUR CHAN%d", ch)); err != nil {
			return nil, err
		}
		reply, err := o.query(":WAV:DATA?")
		if err != nil {
			return nil, err
		}
		trace, err := ParseWaveform(reply)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		ret = append(ret, trace)
	}
	return ret, nil
}

func (o *Oscilloscope) QueryCounter() (float64, error) {
	reply, err := o.query(":COUN:CURR?")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: counter reply %q", instrument.ErrProtocol, reply)
	}
	return v, nil
}

func (o *Oscilloscope) Close() error {
	return o.conn.Close()
}
