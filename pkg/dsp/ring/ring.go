package ring

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Buffer is a fixed-capacity history. The newest value is always at index 0;
// Push shifts everything one slot towards the end and drops the oldest.
type Buffer struct {
	data   []float64
	filled int
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]float64, capacity)}
}

func (b *Buffer) Push(v float64) {
	copy(b.data[1:], b.data[:len(b.data)-1])
	b.data[0] = v
	if b.filled < len(b.data) {
		b.filled++
	}
}

// At returns the i-th newest value. Slots that were never written read 0.
func (b *Buffer) At(i int) float64 {
	return b.data[i]
}

// Len is the number of values pushed so far, capped at Cap.
func (b *Buffer) Len() int {
	return b.filled
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

// Values copies the written portion, newest first.
func (b *Buffer) Values() []float64 {
	ret := make([]float64, b.filled)
	copy(ret, b.data[:b.filled])
	return ret
}

// Snapshot copies the whole buffer including unwritten slots.
func (b *Buffer) Snapshot() []float64 {
	ret := make([]float64, len(b.data))
	copy(ret, b.data)
	return ret
}

// MeanStd is the mean and population standard deviation of the written
// portion.
func (b *Buffer) MeanStd() (mean, std float64) {
	if b.filled == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(b.data[:b.filled], nil)
	return mean, math.Sqrt(variance)
}

func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.filled = 0
}
