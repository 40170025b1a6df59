package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushOrder(t *testing.T) {
	b := New(5)
	for _, v := range []float64{1, 2, 3} {
		b.Push(v)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3.0, b.At(0))
	assert.Equal(t, 2.0, b.At(1))
	assert.Equal(t, 1.0, b.At(2))
	assert.Equal(t, 0.0, b.At(3))
	assert.Equal(t, []float64{3, 2, 1}, b.Values())
	assert.Equal(t, []float64{3, 2, 1, 0, 0}, b.Snapshot())
}

func TestPushOverflow(t *testing.T) {
	b := New(3)
	for v := 1.0; v <= 7; v++ {
		b.Push(v)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []float64{7, 6, 5}, b.Values())
}

func TestMeanStd(t *testing.T) {
	b := New(3)
	mean, std := b.MeanStd()
	assert.Zero(t, mean)
	assert.Zero(t, std)

	b.Push(1)
	b.Push(1)
	b.Push(1)
	mean, std = b.MeanStd()
	assert.Equal(t, 1.0, mean)
	assert.Equal(t, 0.0, std)

	// only the written portion counts
	p := New(10)
	p.Push(2)
	p.Push(4)
	mean, std = p.MeanStd()
	assert.InDelta(t, 3.0, mean, 1e-12)
	assert.InDelta(t, 1.0, std, 1e-12)
}

func TestReset(t *testing.T) {
	b := New(2)
	b.Push(1)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []float64{0, 0}, b.Snapshot())
}

func TestMinimumCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, 1, b.Cap())
	b.Push(4)
	b.Push(5)
	assert.Equal(t, []float64{5}, b.Values())
}
