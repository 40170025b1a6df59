package viz

import (
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type PlotType int

const (
	PlotTypeDefault PlotType = iota
	PlotTypeScatter
	PlotTypeLines
)

// TimeDomainPlotter draws the most recent size values of one or more series.
type TimeDomainPlotter struct {
	mu          sync.Mutex
	series      map[string][]float64
	order       []string
	xs          []float64
	size        int
	name        string
	plotFunc    func(*plot.Plot, ...interface{}) error
	plotOptions []PlotOptions
	width       vg.Length
	height      vg.Length
}

const defaultSeries = "f(t)"

func NewTimeDomainPlotter(name string, size int) *TimeDomainPlotter {
	ret := &TimeDomainPlotter{
		series:   make(map[string][]float64),
		size:     size,
		name:     name,
		plotFunc: plotutil.AddLines,
		width:    DefaultWidth,
		height:   DefaultHeight,
	}

	return ret
}

func (t *TimeDomainPlotter) Name() string {
	return t.name
}

func (t *TimeDomainPlotter) SetPlotType(tp PlotType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch tp {
	case PlotTypeScatter:
		t.plotFunc = plotutil.AddScatters
	default:
		t.plotFunc = plotutil.AddLines
	}
}

func (t *TimeDomainPlotter) SetSize(width, height vg.Length) {
	t.mu.Lock()
	t.width, t.height = width, height
	t.mu.Unlock()
}

// SetX sets the x coordinates of the samples; without it samples are plotted
// against their index.
func (t *TimeDomainPlotter) SetX(xs []float64) {
	t.mu.Lock()
	t.xs = append(t.xs[:0], xs...)
	t.mu.Unlock()
}

// Append adds samples to the default series, keeping the newest size values.
func (tp *TimeDomainPlotter) Append(f []float64) {
	tp.AppendSeries(defaultSeries, f)
}

func (tp *TimeDomainPlotter) AppendSeries(name string, f []float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	buf := append(tp.seriesLocked(name), f...)
	if len(buf) > tp.size {
		buf = buf[len(buf)-tp.size:]
	}
	tp.series[name] = buf
}

// Set replaces the default series.
func (tp *TimeDomainPlotter) Set(f []float64) {
	tp.SetSeries(defaultSeries, f)
}

func (tp *TimeDomainPlotter) SetSeries(name string, f []float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	buf := append(tp.seriesLocked(name)[:0], f...)
	if len(buf) > tp.size {
		buf = buf[:tp.size]
	}
	tp.series[name] = buf
}

func (tp *TimeDomainPlotter) seriesLocked(name string) []float64 {
	buf, ok := tp.series[name]
	if !ok {
		tp.order = append(tp.order, name)
	}
	return buf
}

func (tp *TimeDomainPlotter) AddPlotOption(opt PlotOptions) {
	tp.mu.Lock()
	tp.plotOptions = append(tp.plotOptions, opt)
	tp.mu.Unlock()
}

func (tp *TimeDomainPlotter) GetImage() *ImageContainer {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	var args []interface{}
	for _, name := range tp.order {
		buf := tp.series[name]
		if len(buf) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(buf))
		for i := range buf {
			x := float64(i)
			if i < len(tp.xs) {
				x = tp.xs[i]
			}
			xys[i] = plotter.XY{X: x, Y: buf[i]}
		}
		args = append(args, name, xys)
	}
	if len(args) == 0 {
		return nil
	}

	p := plotWithDefaults()

	p.Title.Text = tp.name
	p.Y.Label.Text = "Amplitude"
	p.X.Label.Text = "t"

	for _, opt := range tp.plotOptions {
		opt(p)
	}

	grid := plotter.NewGrid()
	p.Add(grid)

	if err := tp.plotFunc(p, args...); err != nil {
		return nil
	}

	return render(tp.name, p, tp.width, tp.height)
}
