package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	receiveChannels = 8
	numSenders      = 2
)

// EstimateUDPOutput broadcasts every estimate to a set of UDP destinations.
// Each datagram is a little-endian uint16 length followed by a protobuf
// encoded google.protobuf.Struct.
type EstimateUDPOutput struct {
	dests    []config.OutputDestination
	recvChan chan *measurement.Frame
	metrics  api.WriteAPI
	dropped  uint64
}

func NewEstimateUDPOutput(dests []config.OutputDestination, metrics api.WriteAPI) *EstimateUDPOutput {
	return &EstimateUDPOutput{
		dests:    dests,
		recvChan: make(chan *measurement.Frame, receiveChannels),
		metrics:  metrics,
	}
}

func (s *EstimateUDPOutput) Name() string {
	return "udp"
}

// Write queues f without blocking. Frames are dropped while the senders are
// behind.
func (s *EstimateUDPOutput) Write(f *measurement.Frame) error {
	if f.Estimate == nil {
		return fmt.Errorf("frame %d has no estimate", f.Seq)
	}
	select {
	case s.recvChan <- f:
		return nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		return fmt.Errorf("udp output queue full, frame %d dropped", f.Seq)
	}
}

func (s *EstimateUDPOutput) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

func (s *EstimateUDPOutput) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	destAddrs := make([]*net.UDPAddr, 0, len(s.dests))
	for _, dest := range s.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("stream output starting")
	}

	for i := 0; i < numSenders; i++ {
		eg.Go(func() error {
			conn, err := net.ListenUDP("udp", nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case f := <-s.recvChan:
					msg, err := EncodeEstimate(f)
					if err != nil {
						log.Warn().Err(err).Msg("error encoding estimate")
						continue
					}

					success := true
					var bytesWritten int
					for _, destAddr := range destAddrs {
						bytesWritten, err = conn.WriteToUDP(msg, destAddr)
						if err != nil {
							log.Error().Err(err).Msg("error writing")
							success = false
						}
					}

					sent := 0
					if success {
						sent = 1
					}
					s.metrics.WritePoint(influxdb2.NewPoint("estimate.sent_frame",
						nil,
						map[string]interface{}{
							"bytes_written": bytesWritten,
							"sent":          sent,
							"dropped":       1 - sent,
						}, time.Now()))
				}
			}
		})
	}

	return eg.Wait()
}

// EncodeEstimate renders the datagram for f.
func EncodeEstimate(f *measurement.Frame) ([]byte, error) {
	est := f.Estimate
	if est == nil {
		return nil, fmt.Errorf("frame %d has no estimate", f.Seq)
	}

	msg, err := structpb.NewStruct(map[string]interface{}{
		"seq":                 float64(f.Seq),
		"timestamp":           f.Timestamp.UTC().Format(time.RFC3339Nano),
		"velocity":            f.CounterVelocity,
		"distance":            f.Distance(),
		"delay_single":        est.DelaySingle,
		"speed_single":        est.SpeedSingle,
		"speed_average":       est.SpeedAverage,
		"speed_average_error": est.SpeedAverageError,
		"deviation_pct":       est.DeviationPercent,
	})
	if err != nil {
		return nil, err
	}

	encoded, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(encoded) > 0xffff {
		return nil, fmt.Errorf("encoded estimate too large: %d bytes", len(encoded))
	}

	var msgBuf bytes.Buffer
	if err := binary.Write(&msgBuf, binary.LittleEndian, uint16(len(encoded))); err != nil {
		return nil, err
	}
	if _, err := msgBuf.Write(encoded); err != nil {
		return nil, err
	}
	return msgBuf.Bytes(), nil
}

// DecodeEstimate is the inverse of EncodeEstimate.
func DecodeEstimate(datagram []byte) (*structpb.Struct, error) {
	if len(datagram) < 2 {
		return nil, fmt.Errorf("datagram too short: %d bytes", len(datagram))
	}
	size := int(binary.LittleEndian.Uint16(datagram))
	if len(datagram)-2 < size {
		return nil, fmt.Errorf("datagram truncated: want %d bytes, have %d", size, len(datagram)-2)
	}
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(datagram[2:2+size], msg); err != nil {
		return nil, err
	}
	return msg, nil
}
