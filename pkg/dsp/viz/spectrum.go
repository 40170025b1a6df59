package viz

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/norasector/lightspeed/pkg/dsp/filters/fir"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	MIX_AVG    = 0.10
	powerFloor = 1e-12
)

// SpectrumPlotter shows the averaged magnitude spectrum of a trace.
type SpectrumPlotter struct {
	mu           sync.Mutex
	buf          []float64
	sampleRate   float64
	len          int
	averagePower []float64
	name         string
	plotOptions  []PlotOptions
	width        vg.Length
	height       vg.Length
}

func (f *SpectrumPlotter) Name() string {
	return f.name
}

func NewSpectrumPlotter(name string, len int, sampleRate float64) *SpectrumPlotter {
	return &SpectrumPlotter{
		buf:          make([]float64, len),
		averagePower: make([]float64, len/2+1),
		len:          len,
		sampleRate:   sampleRate,
		name:         name,
		width:        DefaultWidth,
		height:       DefaultHeight,
	}
}

func (p *SpectrumPlotter) SetSampleRate(sampleRate float64) {
	p.mu.Lock()
	p.sampleRate = sampleRate
	p.mu.Unlock()
}

func (p *SpectrumPlotter) SetSize(width, height vg.Length) {
	p.mu.Lock()
	p.width, p.height = width, height
	p.mu.Unlock()
}

// Append keeps the newest len samples.
func (p *SpectrumPlotter) Append(s []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(s) >= p.len {
		copy(p.buf, s[len(s)-p.len:])
	} else {
		p.buf = append(p.buf, s...)
		p.buf = p.buf[len(s):]
	}
}

func (pb *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	pb.mu.Lock()
	pb.plotOptions = append(pb.plotOptions, opt)
	pb.mu.Unlock()
}

// Spectrum returns the windowed magnitude per frequency bin and updates the
// running average.
func (pb *SpectrumPlotter) Spectrum() plotter.XYs {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.spectrumLocked()
}

func (pb *SpectrumPlotter) spectrumLocked() plotter.XYs {
	if pb.len < 2 {
		return nil
	}
	win := fir.BlackmanWindow(pb.len)
	f := fourier.NewFFT(pb.len)
	data := make([]float64, pb.len)
	for i := range data {
		data[i] = pb.buf[i] * float64(win[i]) / (0.42 * float64(pb.len))
	}
	coeffs := f.Coefficients(nil, data)

	ret := make(plotter.XYs, 0, len(coeffs))
	for i := 0; i < len(coeffs); i++ {
		mag := cmplx.Abs(coeffs[i])
		pb.averagePower[i] = ((1.0 - MIX_AVG) * pb.averagePower[i]) + (MIX_AVG * mag)
		ret = append(ret, plotter.XY{
			X: f.Freq(i) * pb.sampleRate,
			Y: 20 * math.Log10(math.Max(pb.averagePower[i], powerFloor)),
		})
	}
	return ret
}

func (pb *SpectrumPlotter) GetImage() *ImageContainer {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	p := plotWithDefaults()
	p.Title.Text = pb.name
	p.Y.Label.Text = "Power (dB)"
	p.X.Label.Text = "Frequency (Hz)"

	for _, opt := range pb.plotOptions {
		opt(p)
	}

	grid := plotter.NewGrid()
	p.Add(grid)

	points := pb.spectrumLocked()
	if len(points) == 0 {
		return nil
	}
	if err := plotutil.AddLines(p, "spectrum", points); err != nil {
		return nil
	}

	return render(pb.name, p, pb.width, pb.height)
}
