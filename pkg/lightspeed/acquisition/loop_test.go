package acquisition

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"github.com/norasector/lightspeed/pkg/lightspeed/instrument/sim"
	"github.com/norasector/lightspeed/pkg/lightspeed/link"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInstrument takes its setters from the simulator and scripts the
// acquisition queries.
type scriptedInstrument struct {
	instrument.Instrument

	mu          sync.Mutex
	data        [][]float64
	dataErr     error
	counter     float64
	pollsToDone int
	neverDone   bool
	polls       int
	singles     int
}

func newScripted(data [][]float64) *scriptedInstrument {
	return &scriptedInstrument{
		Instrument: sim.NewSimulator(sim.Options{Samples: 10, Seed: 1}),
		data:       data,
		counter:    10,
	}
}

func (s *scriptedInstrument) Single() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singles++
	s.polls = 0
	return nil
}

func (s *scriptedInstrument) IsTriggerDone() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return !s.neverDone && s.polls > s.pollsToDone, nil
}

func (s *scriptedInstrument) QueryData(channels ...int) ([][]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataErr != nil {
		return nil, s.dataErr
	}
	ret := make([][]float64, len(s.data))
	for i := range s.data {
		ret[i] = append([]float64(nil), s.data[i]...)
	}
	return ret, nil
}

func (s *scriptedInstrument) QueryCounter() (float64, error) {
	return s.counter, nil
}

func (s *scriptedInstrument) singleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.singles
}

func testConfig(mode config.Mode) config.Acquisition {
	c := config.DefaultAcquisition()
	c.Mode = mode
	c.Path.Length = 10
	c.Path.Multiplier = 2
	c.DrainTimeout = 5 * time.Millisecond
	return c
}

type harness struct {
	loop     *Loop
	down, up *link.Link
	done     chan error
	writeAPI *util.MockWriteAPI
}

func start(t *testing.T, ctx context.Context, inst instrument.Instrument, cfg config.Acquisition) *harness {
	t.Helper()
	h := &harness{
		down:     link.New("down", time.Millisecond),
		up:       link.New("up", time.Millisecond),
		done:     make(chan error, 1),
		writeAPI: &util.MockWriteAPI{},
	}
	var err error
	h.loop, err = NewLoop(inst, cfg, h.down, h.up, WithLogger(zerolog.Nop()), WithInfluxDB(h.writeAPI))
	require.NoError(t, err)
	go func() { h.done <- h.loop.Run(ctx) }()
	return h
}

// shutdown performs the consumer side of the handshake and returns the
// frames received before the sentinel.
func (h *harness) shutdown(t *testing.T, ctx context.Context) []*measurement.Frame {
	t.Helper()
	require.NoError(t, h.up.Close(ctx))
	var frames []*measurement.Frame
	for {
		f, err := h.down.Receive(ctx)
		require.NoError(t, err)
		if f == nil {
			break
		}
		frames = append(frames, f)
	}
	require.NoError(t, <-h.done)
	return frames
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "triggered_wait", StateTriggeredWait.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestConfigureFailureSendsSentinel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(config.ModeContinuous)
	cfg.Timebase = 1e-12
	h := start(t, ctx, sim.NewSimulator(sim.Options{Seed: 1}), cfg)

	err := <-h.done
	assert.ErrorIs(t, err, instrument.ErrInvalidParameter)
	assert.Equal(t, StateShuttingDown, h.loop.State())

	msg, rerr := h.down.TryReceive()
	require.NoError(t, rerr)
	assert.Nil(t, msg)
}

func TestSentinelHandshake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := sim.NewSimulator(sim.Options{Samples: 200, Delay: 40e-9, Seed: 5})
	h := start(t, ctx, s, testConfig(config.ModeContinuous))

	for i := 0; i < 3; i++ {
		f, err := h.down.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, f)
	}

	h.shutdown(t, ctx)
	assert.Equal(t, StateShuttingDown, h.loop.State())

	// nothing follows the sentinel
	time.Sleep(20 * time.Millisecond)
	_, err := h.down.TryReceive()
	assert.ErrorIs(t, err, link.ErrEmpty)
}

func TestMismatchedFramesAreDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := newScripted([][]float64{make([]float64, 10), make([]float64, 9)})
	h := start(t, ctx, inst, testConfig(config.ModeContinuous))

	require.Eventually(t, func() bool { return h.loop.Dropped() >= 3 }, 5*time.Second, time.Millisecond)
	frames := h.shutdown(t, ctx)
	assert.Empty(t, frames)
	assert.Zero(t, h.loop.Emitted())
}

func TestProtocolErrorsAreDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := newScripted(nil)
	inst.dataErr = instrument.ErrProtocol
	h := start(t, ctx, inst, testConfig(config.ModeContinuous))

	require.Eventually(t, func() bool { return h.loop.Dropped() >= 2 }, 5*time.Second, time.Millisecond)
	assert.Empty(t, h.shutdown(t, ctx))
	assert.NotEmpty(t, h.writeAPI.PointsNamed("acquisition.frame"))
}

func TestTriggeredFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := []float64{0, 0, 1, 1}
	inst := newScripted([][]float64{ch, ch})
	inst.pollsToDone = 2
	cfg := testConfig(config.ModeTriggered)
	cfg.ChopperDiameter = 0.1
	h := start(t, ctx, inst, cfg)

	first, err := h.down.Receive(ctx)
	require.NoError(t, err)
	second, err := h.down.Receive(ctx)
	require.NoError(t, err)
	h.shutdown(t, ctx)

	assert.GreaterOrEqual(t, inst.singleCount(), 2)
	assert.Equal(t, ch, first.Channel1)
	assert.Equal(t, ch, first.Channel2)
	require.Len(t, first.Timebase, 4)
	assert.Equal(t, 0.0, first.Timebase[0])
	assert.InDelta(t, cfg.Timebase*10, first.Timebase[3], 1e-18)
	assert.InDelta(t, 10*math.Pi*0.1, first.CounterVelocity, 1e-12)
	assert.Equal(t, 10.0, first.PathLength)
	assert.Equal(t, 2, first.PathMultiplier)
	assert.Less(t, first.Seq, second.Seq)
	assert.NoError(t, first.Validate())
}

func TestCounterWithoutChopper(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := newScripted([][]float64{{1, 2}, {3, 4}})
	inst.counter = 42
	h := start(t, ctx, inst, testConfig(config.ModeContinuous))

	f, err := h.down.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42.0, f.CounterVelocity)
	h.shutdown(t, ctx)
}

func TestShutdownWhileWaitingForTrigger(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := newScripted([][]float64{{1}, {1}})
	inst.neverDone = true
	h := start(t, ctx, inst, testConfig(config.ModeTriggered))

	require.Eventually(t, func() bool { return h.loop.State() == StateTriggeredWait }, 5*time.Second, time.Millisecond)
	assert.Empty(t, h.shutdown(t, ctx))
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := newScripted([][]float64{{1, 2}, {3, 4}})
	cfg := testConfig(config.ModeContinuous)
	cfg.MaxQueryRate = 50
	h := start(t, ctx, inst, cfg)

	var frames []*measurement.Frame
	for len(frames) < 4 {
		f, err := h.down.Receive(ctx)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	h.shutdown(t, ctx)

	for i := 1; i < len(frames); i++ {
		gap := frames[i].Timestamp.Sub(frames[i-1].Timestamp)
		assert.GreaterOrEqual(t, int64(gap), int64(20*time.Millisecond))
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	inst := newScripted([][]float64{{1}, {1}})
	inst.neverDone = true
	h := start(t, ctx, inst, testConfig(config.ModeTriggered))
	cancel()

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
