package serialmux

import (
	"context"
	"sync"

	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// muxTransport adapts a mux subscription to transport.Transport. UART has
// no addressing below the frame, so dest is carried only in the frame's id.
type muxTransport struct {
	name   string
	send   func(ctx context.Context, frame []byte) error
	unsub  func()
	ch     <-chan packet.Packet
	closed chan struct{}
	once   sync.Once
}

// Transport subscribes to the mux and returns the subscription as a
// transport. Closing the transport unsubscribes but leaves the port open.
func (s *SerialMux[T]) Transport() transport.Transport {
	id, ch := s.Subscribe()
	return &muxTransport{
		name:   s.name,
		send:   s.writeFrame,
		unsub:  func() { s.Unsubscribe(id) },
		ch:     ch,
		closed: make(chan struct{}),
	}
}

func (t *muxTransport) Name() string { return t.name }

func (t *muxTransport) Send(ctx context.Context, _ uint16, frame []byte) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}
	return t.send(ctx, frame)
}

func (t *muxTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-t.ch:
		if !ok {
			return nil, transport.ErrClosed
		}
		return p.MarshalBinary()
	case <-t.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *muxTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.unsub()
	})
	return nil
}
