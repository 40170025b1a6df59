package estimator

import (
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"gonum.org/v1/plot/vg"
)

const (
	vizBucket    = "lightspeed"
	spectrumSize = 512
	traceSize    = 1 << 16
)

type plots struct {
	traces      *viz.TimeDomainPlotter
	correlation *viz.TimeDomainPlotter
	spectrum    *viz.SpectrumPlotter

	delay        *viz.TimeDomainPlotter
	speedSingle  *viz.TimeDomainPlotter
	speedAverage *viz.TimeDomainPlotter
	speedError   *viz.TimeDomainPlotter
	deviation    *viz.TimeDomainPlotter
	chopper      *viz.TimeDomainPlotter
}

func newPlots(historySize int, width, height float64) *plots {
	p := &plots{
		traces:       viz.NewTimeDomainPlotter("01. Normalized traces", traceSize),
		correlation:  viz.NewTimeDomainPlotter("02. Cross-correlation", 4*traceSize),
		spectrum:     viz.NewSpectrumPlotter("03. Channel 1 spectrum", spectrumSize, 1),
		delay:        viz.NewTimeDomainPlotter("04. Delay", historySize),
		speedSingle:  viz.NewTimeDomainPlotter("05. Speed (single)", historySize),
		speedAverage: viz.NewTimeDomainPlotter("06. Speed (average)", historySize),
		speedError:   viz.NewTimeDomainPlotter("07. Speed error", historySize),
		deviation:    viz.NewTimeDomainPlotter("08. Deviation", historySize),
		chopper:      viz.NewTimeDomainPlotter("09. Chopper speed", historySize),
	}

	p.traces.AddPlotOption(viz.WithAxisLabels("t (ns)", "normalized"))
	p.correlation.AddPlotOption(viz.WithAxisLabels("lag index", "correlation"))
	p.delay.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "delay (s)"))
	p.speedSingle.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "m/s"))
	p.speedAverage.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "m/s"))
	p.speedError.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "m/s"))
	p.deviation.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "%"))
	p.chopper.AddPlotOption(viz.WithAxisLabels("estimate (newest first)", "m/s"))

	if width > 0 && height > 0 {
		w, h := vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch
		for _, tp := range p.timeDomain() {
			tp.SetSize(w, h)
		}
		p.spectrum.SetSize(w, h)
	}
	return p
}

func (p *plots) timeDomain() []*viz.TimeDomainPlotter {
	return []*viz.TimeDomainPlotter{
		p.traces, p.correlation,
		p.delay, p.speedSingle, p.speedAverage, p.speedError, p.deviation, p.chopper,
	}
}

func (p *plots) register(s *viz.Server) {
	for _, tp := range p.timeDomain() {
		s.Register(vizBucket, tp)
	}
	s.Register(vizBucket, p.spectrum)
}

func (p *plots) update(a *Analysis, h HistorySnapshot) {
	ns := make([]float64, len(a.Timebase))
	for i, t := range a.Timebase {
		ns[i] = (t - a.Timebase[0]) * 1e9
	}
	p.traces.SetX(ns)
	p.traces.SetSeries("channel 1", a.Channel1)
	p.traces.SetSeries("channel 2", a.Channel2)
	p.traces.SetSeries("difference", a.Diff)
	p.correlation.Set(a.Correlation)

	if len(a.Timebase) > 1 {
		if dt := a.Timebase[1] - a.Timebase[0]; dt > 0 {
			p.spectrum.SetSampleRate(1 / dt)
		}
	}
	p.spectrum.Append(a.Channel1)

	p.delay.Set(h.Delay)
	p.speedSingle.Set(h.SpeedSingle)
	p.speedAverage.Set(h.SpeedAverage)
	p.speedError.Set(h.SpeedAverageError)
	p.deviation.Set(h.Deviation)
	p.chopper.Set(h.ChopperSpeed)
}
