package processor

import (
	"fmt"

	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/norasector/lightspeed/pkg/util"
)

const defaultVizLength = 1000

// Processor runs a trace through a chain of workers, optionally publishing
// every stage to the viz server.
type Processor struct {
	Name        string
	InputName   string
	blocks      []*DSPWorker
	vizServer   *viz.Server
	initialized bool
	input       *viz.TimeDomainPlotter
}

func NewProcessor(name, inputName string, vizServer *viz.Server) *Processor {
	return &Processor{
		Name:      name,
		InputName: inputName,
		vizServer: vizServer,
	}
}

func (p *Processor) AddBlock(worker *DSPWorker) {
	p.blocks = append(p.blocks, worker)
}

func (p *Processor) Len() int {
	return len(p.blocks)
}

func (p *Processor) Initialize() error {
	if p.initialized {
		return nil
	}
	for _, block := range p.blocks {
		if block.worker == nil {
			return fmt.Errorf("block %s has no worker", block.Name)
		}
	}

	if p.vizServer != nil {
		vizIndex := 0
		nextIndexString := func(s string) string {
			vizIndex++
			return fmt.Sprintf("%s %02d. %s", p.Name, vizIndex, s)
		}

		p.input = viz.NewTimeDomainPlotter(nextIndexString(p.InputName), defaultVizLength)
		p.vizServer.Register(p.Name, p.input)

		for _, block := range p.blocks {
			vizLength := defaultVizLength
			if block.vizSize > 0 {
				vizLength = block.vizSize
			}
			block.timeDomain = viz.NewTimeDomainPlotter(nextIndexString(block.DisplayName), vizLength)
			for _, opt := range block.plotOptions {
				block.timeDomain.AddPlotOption(opt)
			}
			p.vizServer.Register(p.Name, block.timeDomain)
		}
	}

	p.initialized = true
	return nil
}

// Process returns a freshly allocated output; the workers' buffers are reused
// between calls. The duration of each block is recorded in metrics under
// "<name>_duration" in microseconds.
func (p *Processor) Process(input []float64, metrics map[string]interface{}) ([]float64, error) {
	if !p.initialized {
		if err := p.Initialize(); err != nil {
			return nil, err
		}
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%s: empty input", p.Name)
	}

	if p.input != nil {
		p.input.Set(input)
	}

	cur := input
	for _, block := range p.blocks {
		size := block.worker.PredictOutputSize(len(cur))
		if size == 0 {
			return nil, fmt.Errorf("%s: %s produced no output for %d samples", p.Name, block.Name, len(cur))
		}
		if len(block.outputBuffer) < size {
			block.outputBuffer = make([]float64, size)
		}

		var length int
		in := cur
		elapsed := util.TimeOperationMicroseconds(func() {
			length = block.worker.WorkBuffer(in, block.outputBuffer)
		})
		if metrics != nil {
			metrics[fmt.Sprintf("%s_duration", block.Name)] = elapsed
		}

		cur = block.outputBuffer[:length]
		if block.timeDomain != nil {
			block.timeDomain.Set(cur)
		}
	}

	ret := make([]float64, len(cur))
	copy(ret, cur)
	return ret, nil
}
