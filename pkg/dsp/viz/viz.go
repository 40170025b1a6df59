package viz

import (
	"bytes"
	"image/color"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

type PlotOptions func(p *plot.Plot)

var (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

func plotWithDefaults() *plot.Plot {

	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White

	return p
}

// WithYRange pins the y axis.
func WithYRange(min, max float64) PlotOptions {
	return func(p *plot.Plot) {
		p.Y.Min = min
		p.Y.Max = max
	}
}

func WithAxisLabels(x, y string) PlotOptions {
	return func(p *plot.Plot) {
		p.X.Label.Text = x
		p.Y.Label.Text = y
	}
}

func render(name string, p *plot.Plot, width, height vg.Length) *ImageContainer {
	var imageData bytes.Buffer
	w, err := p.WriterTo(width, height, "png")
	if err != nil {
		log.Warn().Str("plot", name).Err(err).Msg("failed to render plot")
		return nil
	}
	if _, err := w.WriteTo(&imageData); err != nil {
		log.Warn().Str("plot", name).Err(err).Msg("failed to encode plot")
		return nil
	}
	return &ImageContainer{name: name, data: imageData.Bytes()}
}
