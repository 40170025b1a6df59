package movavg

import "gonum.org/v1/gonum/floats"

// MovingAverage convolves its input with a uniform kernel of the given width,
// keeping only the fully overlapped ("valid") part. Output is width-1 samples
// shorter than the input.
type MovingAverage struct {
	width int
}

func NewMovingAverage(width int) *MovingAverage {
	if width < 1 {
		width = 1
	}
	return &MovingAverage{width: width}
}

func (m *MovingAverage) Width() int {
	return m.width
}

func (m *MovingAverage) WorkBuffer(input, output []float64) int {
	n := m.PredictOutputSize(len(input))
	if n == 0 {
		return 0
	}
	if m.width == 1 {
		return copy(output, input)
	}

	scale := 1 / float64(m.width)
	sum := floats.Sum(input[:m.width])
	output[0] = sum * scale
	for i := 1; i < n; i++ {
		sum += input[i+m.width-1] - input[i-1]
		output[i] = sum * scale
	}
	return n
}

func (m *MovingAverage) PredictOutputSize(inputSize int) int {
	if inputSize < m.width {
		return 0
	}
	return inputSize - m.width + 1
}
