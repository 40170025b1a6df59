package processor

import "github.com/norasector/lightspeed/pkg/dsp/viz"

// Worker transforms one trace into another. WorkBuffer returns the number of
// output samples written; output is at least PredictOutputSize(len(input))
// long.
type Worker interface {
	WorkBuffer([]float64, []float64) int
	PredictOutputSize(int) int
}

type DSPWorker struct {
	Name        string
	DisplayName string

	worker       Worker
	outputBuffer []float64

	timeDomain  *viz.TimeDomainPlotter
	vizSize     int
	plotOptions []viz.PlotOptions
}

type DSPWorkerOption func(r *DSPWorker)

func WithPlotOptions(opts []viz.PlotOptions) DSPWorkerOption {
	return func(r *DSPWorker) {
		r.plotOptions = append(r.plotOptions, opts...)
	}
}

func WithVizLength(length int) DSPWorkerOption {
	return func(r *DSPWorker) {
		r.vizSize = length
	}
}

func NewDSPWorker(name, displayName string, worker Worker, opts ...DSPWorkerOption) *DSPWorker {
	ret := &DSPWorker{
		Name:        name,
		DisplayName: displayName,
		worker:      worker,
	}

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}
