package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/framelink/internal/packet"
)

const pipeDepth = 64

// pipeEnd is one side of an in-memory link created by Pipe.
type pipeEnd struct {
	name string
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected transports. Frames sent on one are received on
// the other in order. Closing either end closes both.
func Pipe(name string) (Transport, Transport) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{name: name, in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{name: name, in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) Name() string { return p.name }

func (p *pipeEnd) Send(ctx context.Context, _ uint16, frame []byte) error {
	if len(frame) != packet.WireSize {
		return fmt.Errorf("%w: got %d", packet.ErrFrameLength, len(frame))
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- cp:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
