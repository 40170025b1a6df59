package processor

import (
	"testing"
	"time"

	"github.com/norasector/lightspeed/pkg/dsp/filters/movavg"
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scaleWorker float64

func (s scaleWorker) WorkBuffer(in, out []float64) int {
	for i := range in {
		out[i] = in[i] * float64(s)
	}
	return len(in)
}

func (s scaleWorker) PredictOutputSize(n int) int { return n }

func TestProcessChain(t *testing.T) {
	p := NewProcessor("ch1", "raw", nil)
	p.AddBlock(NewDSPWorker("smooth", "Smoothed", movavg.NewMovingAverage(2)))
	p.AddBlock(NewDSPWorker("double", "Doubled", scaleWorker(2)))

	metrics := map[string]interface{}{}
	out, err := p.Process([]float64{1, 3, 5, 7}, metrics)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 8, 12}, out)
	assert.Contains(t, metrics, "smooth_duration")
	assert.Contains(t, metrics, "double_duration")

	// the returned slice is not aliased to the internal buffers
	again, err := p.Process([]float64{0, 0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, again)
	assert.Equal(t, []float64{4, 8, 12}, out)
}

func TestProcessPassThrough(t *testing.T) {
	p := NewProcessor("ch1", "raw", nil)
	in := []float64{1, 2}
	out, err := p.Process(in, nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestProcessErrors(t *testing.T) {
	p := NewProcessor("ch1", "raw", nil)
	p.AddBlock(NewDSPWorker("smooth", "Smoothed", movavg.NewMovingAverage(10)))

	_, err := p.Process(nil, nil)
	assert.Error(t, err)
	_, err = p.Process([]float64{1, 2, 3}, nil)
	assert.Error(t, err)

	broken := NewProcessor("ch2", "raw", nil)
	broken.AddBlock(NewDSPWorker("nil", "Nil", nil))
	assert.Error(t, broken.Initialize())
}

func TestProcessRegistersPlots(t *testing.T) {
	server := viz.NewServer(0, time.Second)
	p := NewProcessor("traces", "Channel 1", server)
	p.AddBlock(NewDSPWorker("smooth", "Smoothed", movavg.NewMovingAverage(3)))
	require.NoError(t, p.Initialize())

	assert.ElementsMatch(t, []string{"traces 01. Channel 1", "traces 02. Smoothed"}, server.Producers("traces"))
}
