// Package link carries measurement frames between the pipeline stages.
//
// A Link holds at most one message. The producer waits a bounded time for the
// slot to drain and then pushes without blocking, dropping the frame when the
// consumer has not caught up. A nil frame is the shutdown sentinel; after
// sending it with Close the producer must not send on the link again.
package link

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
)

var (
	ErrChannelFull = errors.New("link: channel full")
	ErrEmpty       = errors.New("link: empty")
)

const DefaultSpinInterval = time.Millisecond

type Link struct {
	name string
	ch   chan *measurement.Frame
	spin time.Duration

	sent    uint64
	dropped uint64
}

func New(name string, spin time.Duration) *Link {
	if spin <= 0 {
		spin = DefaultSpinInterval
	}
	return &Link{
		name: name,
		ch:   make(chan *measurement.Frame, 1),
		spin: spin,
	}
}

func (l *Link) Name() string {
	return l.name
}

// Send hands f to the consumer. It waits up to drain for the slot to empty
// and returns ErrChannelFull if it is still occupied. Ownership of f passes
// to the consumer on success.
func (l *Link) Send(f *measurement.Frame, drain time.Duration) error {
	if f == nil {
		panic("link: Send with nil frame, use Close")
	}

	deadline := time.Now().Add(drain)
	for len(l.ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(l.spin)
	}

	select {
	case l.ch <- f:
		atomic.AddUint64(&l.sent, 1)
		return nil
	default:
		atomic.AddUint64(&l.dropped, 1)
		return ErrChannelFull
	}
}

// Close delivers the sentinel, spinning until the slot is free or ctx ends.
func (l *Link) Close(ctx context.Context) error {
	for {
		select {
		case l.ch <- nil:
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.spin):
		}
	}
}

// TryReceive never blocks. It returns ErrEmpty when nothing is waiting, and
// (nil, nil) for the sentinel.
func (l *Link) TryReceive() (*measurement.Frame, error) {
	select {
	case f := <-l.ch:
		return f, nil
	default:
		return nil, ErrEmpty
	}
}

// Receive polls TryReceive every spin interval until a message arrives or
// ctx ends.
func (l *Link) Receive(ctx context.Context) (*measurement.Frame, error) {
	for {
		f, err := l.TryReceive()
		if err != ErrEmpty {
			return f, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.spin):
		}
	}
}

func (l *Link) Sent() uint64 {
	return atomic.LoadUint64(&l.sent)
}

func (l *Link) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}
