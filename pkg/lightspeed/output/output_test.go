package output

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func estimatedFrame(seq uint64) *measurement.Frame {
	return &measurement.Frame{
		Seq:             seq,
		Timestamp:       time.Unix(1700000000, int64(seq)),
		CounterVelocity: 12.5,
		PathLength:      6,
		PathMultiplier:  2,
		Estimate: &measurement.Estimate{
			DelaySingle:       40e-9,
			SpeedSingle:       3e8,
			SpeedAverage:      2.9e8,
			SpeedAverageError: 1e6,
			DeviationPercent:  0.07,
		},
	}
}

func TestEncodeEstimate(t *testing.T) {
	datagram, err := EncodeEstimate(estimatedFrame(7))
	require.NoError(t, err)

	msg, err := DecodeEstimate(datagram)
	require.NoError(t, err)

	fields := msg.AsMap()
	assert.Equal(t, 7.0, fields["seq"])
	assert.Equal(t, 12.0, fields["distance"])
	assert.Equal(t, 40e-9, fields["delay_single"])
	assert.Equal(t, 0.07, fields["deviation_pct"])
	assert.Equal(t, "2023-11-14T22:13:20.000000007Z", fields["timestamp"])
}

func TestEncodeWithoutEstimate(t *testing.T) {
	f := estimatedFrame(1)
	f.Estimate = nil
	_, err := EncodeEstimate(f)
	assert.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	datagram, err := EncodeEstimate(estimatedFrame(1))
	require.NoError(t, err)

	_, err = DecodeEstimate(datagram[:1])
	assert.Error(t, err)
	_, err = DecodeEstimate(datagram[:len(datagram)-1])
	assert.Error(t, err)
}

func TestUDPOutputQueueFull(t *testing.T) {
	out := NewEstimateUDPOutput(nil, &util.MockWriteAPI{})
	for i := 0; i < receiveChannels; i++ {
		require.NoError(t, out.Write(estimatedFrame(uint64(i))))
	}
	assert.Error(t, out.Write(estimatedFrame(99)))
	assert.Equal(t, uint64(1), out.Dropped())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestSimpleOutputFlushesOnTimeout(t *testing.T) {
	var dest syncBuffer
	out := NewSimpleEstimateOutput(&dest, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- out.Start(ctx) }()

	require.NoError(t, out.Write(estimatedFrame(1)))
	require.NoError(t, out.Write(estimatedFrame(2)))

	require.Eventually(t, func() bool {
		recs, err := ReadRecords(bytes.NewReader(dest.Bytes()))
		return err == nil && len(recs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	recs, err := ReadRecords(bytes.NewReader(dest.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, 12.0, recs[1].Distance)
	assert.Equal(t, 3e8, recs[1].SpeedSingle)
}

func TestSimpleOutputFlushesFullBuffer(t *testing.T) {
	var dest syncBuffer
	out := NewSimpleEstimateOutput(&dest, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go out.Start(ctx)

	for i := 0; i < recordBufferLength; i++ {
		require.Eventually(t, func() bool {
			return out.Write(estimatedFrame(uint64(i))) == nil
		}, time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool {
		recs, err := ReadRecords(bytes.NewReader(dest.Bytes()))
		return err == nil && len(recs) == recordBufferLength
	}, 2*time.Second, 5*time.Millisecond)
}
