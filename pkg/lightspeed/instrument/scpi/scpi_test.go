package scpi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ instrument.Instrument = (*Oscilloscope)(nil)

// fakeScope answers queries on the server end of a net.Pipe.
type fakeScope struct {
	mu        sync.Mutex
	commands  []string
	replies   map[string]string
	waveforms map[string]string
	source    string
}

func newFakeScope(t *testing.T, replies map[string]string, waveforms map[string]string) (*Oscilloscope, *fakeScope) {
	t.Helper()
	client, server := net.Pipe()
	f := &fakeScope{replies: replies, waveforms: waveforms}
	if f.replies == nil {
		f.replies = map[string]string{}
	}
	if _, ok := f.replies["*IDN?"]; !ok {
		f.replies["*IDN?"] = "RIGOL TECHNOLOGIES,MSO5074,MS5A0000,00.01.02"
	}

	go func() {
		defer server.Close()
		sc := bufio.NewScanner(server)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			f.mu.Lock()
			f.commands = append(f.commands, line)
			if strings.HasPrefix(line, ":WAV:SOUR ") {
				f.source = strings.TrimPrefix(line, ":WAV:SOUR ")
			}
			var reply string
			isQuery := strings.HasSuffix(line, "?")
			if line == ":WAV:DATA?" {
				reply = f.waveforms[f.source]
			} else {
				reply = f.replies[line]
			}
			f.mu.Unlock()
			if isQuery {
				if _, err := server.Write([]byte(reply + "\n")); err != nil {
					return
				}
			}
		}
	}()

	o, err := NewOscilloscope(client, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, f
}

func (f *fakeScope) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func TestOpenSequence(t *testing.T) {
	_, f := newFakeScope(t, nil, nil)

	// the last command is not acknowledged; wait for the fake to record it
	require.Eventually(t, func() bool { return len(f.sent()) == 7 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{
		"*IDN?",
		":CHAN1:DISP ON",
		":CHAN2:DISP ON",
		":CHAN3:DISP OFF",
		":CHAN4:DISP OFF",
		":WAV:MODE NORM",
		":WAV:FORM ASC",
	}, f.sent())
}

func TestSettersValidate(t *testing.T) {
	o, _ := newFakeScope(t, nil, nil)

	for ch := 1; ch <= 4; ch++ {
		assert.NoError(t, o.SetChannelEnable(ch, true))
		assert.NoError(t, o.SetTriggerSource(ch))
		assert.NoError(t, o.SetCounterChannel(ch))
	}
	for _, ch := range []int{0, 5} {
		assert.ErrorIs(t, o.SetChannelEnable(ch, true), instrument.ErrInvalidParameter)
		assert.ErrorIs(t, o.SetTriggerSource(ch), instrument.ErrInvalidParameter)
		assert.ErrorIs(t, o.SetCounterChannel(ch), instrument.ErrInvalidParameter)
		assert.ErrorIs(t, o.SetChannelScale(ch, 1), instrument.ErrInvalidParameter)
		assert.ErrorIs(t, o.SetChannelOffset(ch, 0), instrument.ErrInvalidParameter)
	}

	assert.NoError(t, o.SetTimebasePerDivision(5e-9))
	assert.NoError(t, o.SetTimebasePerDivision(50))
	assert.ErrorIs(t, o.SetTimebasePerDivision(1e-9), instrument.ErrInvalidParameter)
	assert.ErrorIs(t, o.SetTimebasePerDivision(51), instrument.ErrInvalidParameter)

	assert.NoError(t, o.SetChannelScale(1, 0.5))
	assert.ErrorIs(t, o.SetChannelScale(1, 1e-3), instrument.ErrInvalidParameter)
	assert.ErrorIs(t, o.SetTriggerSweep("FAST"), instrument.ErrInvalidParameter)
	assert.ErrorIs(t, o.SetCounterMode("RPM"), instrument.ErrInvalidParameter)
}

func TestCommandFormatting(t *testing.T) {
	o, f := newFakeScope(t, nil, nil)

	require.NoError(t, o.SetTimebasePerDivision(2e-8))
	require.NoError(t, o.SetTriggerLevel(1.5))
	require.NoError(t, o.SetTriggerSweep(instrument.SweepSingle))
	require.NoError(t, o.SetChannelOffset(2, -0.25))
	require.NoError(t, o.SetCounterMode(instrument.CounterFrequency))
	require.NoError(t, o.SetCounterEnable(true))
	require.NoError(t, o.Single())

	require.Eventually(t, func() bool { return len(f.sent()) == 14 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{
		":TIM:MAIN:SCAL 2e-08",
		":TRIG:EDGE:LEV 1.5",
		":TRIG:SWE SING",
		":CHAN2:OFFS -0.25",
		":COUN:MODE FREQ",
		":COUN:ENAB ON",
		":SING",
	}, f.sent()[7:])
}

func TestQueries(t *testing.T) {
	o, _ := newFakeScope(t, map[string]string{
		":TRIG:STAT?": "STOP",
		":COUN:CURR?": "1.250000E+03",
	}, map[string]string{
		"CHAN1": "#9000000012" + "0.1,0.2,0.3,",
		"CHAN2": "#9000000012" + "0.4,0.5,0.6,",
	})

	done, err := o.IsTriggerDone()
	require.NoError(t, err)
	assert.True(t, done)

	v, err := o.QueryCounter()
	require.NoError(t, err)
	assert.Equal(t, 1250.0, v)

	data, err := o.QueryData(1, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, data)

	_, err = o.QueryData(0)
	assert.ErrorIs(t, err, instrument.ErrInvalidParameter)
}

func TestQueryDataProtocolError(t *testing.T) {
	o, _ := newFakeScope(t, nil, map[string]string{
		"CHAN1": "0.1,0.2,",
	})
	_, err := o.QueryData(1)
	assert.ErrorIs(t, err, instrument.ErrProtocol)
}

func TestTriggerNotDone(t *testing.T) {
	o, _ := newFakeScope(t, map[string]string{":TRIG:STAT?": "WAIT"}, nil)
	done, err := o.IsTriggerDone()
	require.NoError(t, err)
	assert.False(t, done)
}

func TestQueryTimesOutOnSilentInstrument(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			if sc.Text() == "*IDN?" {
				if _, err := server.Write([]byte("RIGOL TECHNOLOGIES,MSO5074,MS5A0000,00.01.02\n")); err != nil {
					return
				}
			}
		}
	}()

	o, err := NewOscilloscope(client, WithLogger(zerolog.Nop()), WithReadTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer o.Close()

	start := time.Now()
	_, err = o.IsTriggerDone()
	assert.ErrorIs(t, err, instrument.ErrProtocol)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(context.Background(), addr, 0, 200*time.Millisecond)
	assert.True(t, errors.Is(err, instrument.ErrConnectivity), "got %v", err)

	_, err = Dial(context.Background(), "serial:///dev/does-not-exist-lightspeed", 9600, 0)
	assert.ErrorIs(t, err, instrument.ErrConnectivity)
}
