package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"golang.org/x/sync/errgroup"
)

const (
	recordBufferLength = 8
	defaultFlushWait   = time.Second
)

// Record is the fixed-size little-endian layout written by
// SimpleEstimateOutput.
type Record struct {
	Seq               uint64
	UnixNano          int64
	Velocity          float64
	Distance          float64
	DelaySingle       float64
	SpeedSingle       float64
	SpeedAverage      float64
	SpeedAverageError float64
	DeviationPercent  float64
}

func NewRecord(f *measurement.Frame) Record {
	r := Record{
		Seq:      f.Seq,
		UnixNano: f.Timestamp.UnixNano(),
		Velocity: f.CounterVelocity,
		Distance: f.Distance(),
	}
	if est := f.Estimate; est != nil {
		r.DelaySingle = est.DelaySingle
		r.SpeedSingle = est.SpeedSingle
		r.SpeedAverage = est.SpeedAverage
		r.SpeedAverageError = est.SpeedAverageError
		r.DeviationPercent = est.DeviationPercent
	}
	return r
}

// SimpleEstimateOutput batches records to an io.Writer, flushing after
// recordBufferLength records or once flushWait has passed.
type SimpleEstimateOutput struct {
	dest      io.Writer
	recvChan  chan *measurement.Frame
	flushWait time.Duration
}

func NewSimpleEstimateOutput(dest io.Writer, flushWait time.Duration) *SimpleEstimateOutput {
	if flushWait <= 0 {
		flushWait = defaultFlushWait
	}
	return &SimpleEstimateOutput{
		dest:      dest,
		recvChan:  make(chan *measurement.Frame, recordBufferLength),
		flushWait: flushWait,
	}
}

func (s *SimpleEstimateOutput) Name() string {
	return "writer"
}

func (s *SimpleEstimateOutput) Write(f *measurement.Frame) error {
	select {
	case s.recvChan <- f:
		return nil
	default:
		return fmt.Errorf("writer output queue full, frame %d dropped", f.Seq)
	}
}

func (s *SimpleEstimateOutput) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		b := bytes.NewBuffer(make([]byte, 0, binary.Size(Record{})*recordBufferLength))
		bufNum := 0

		flush := func() error {
			if bufNum == 0 {
				return nil
			}
			if _, err := b.WriteTo(s.dest); err != nil {
				return err
			}
			b.Reset()
			bufNum = 0
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				if err := flush(); err != nil {
					return err
				}
				return ctx.Err()

			case <-time.After(s.flushWait):
				if err := flush(); err != nil {
					return err
				}

			case f := <-s.recvChan:
				if err := binary.Write(b, binary.LittleEndian, NewRecord(f)); err != nil {
					return err
				}

				bufNum++
				if bufNum == recordBufferLength {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	})

	return eg.Wait()
}

// ReadRecords decodes every complete record in r.
func ReadRecords(r io.Reader) ([]Record, error) {
	var ret []Record
	for {
		var rec Record
		err := binary.Read(r, binary.LittleEndian, &rec)
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, rec)
	}
}
