// Package transport holds the contracts framelink expects from a link layer
// and the Endpoint that turns packets into frames and back.
//
// A transport moves whole frames of exactly packet.WireSize bytes. It does
// not fragment, retry or reassemble; it either delivers a frame or returns
// an error.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/framelink/internal/packet"
)

var (
	ErrInvalidPacket = errors.New("transport: packet is not valid")
	ErrClosed        = errors.New("transport: closed")
	// ErrDropped reports frames lost inside the transport, typically to a
	// full receive queue. The link itself is still usable.
	ErrDropped = errors.New("transport: frames dropped")
)

// Sender is the send primitive: frame is exactly packet.WireSize bytes and
// dest is the peer identifier (packet.BroadcastID for no specific peer).
type Sender interface {
	Send(ctx context.Context, dest uint16, frame []byte) error
}

// Receiver is the receive primitive. Each successful call yields one frame.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Transport is a named, closable link carrying frames both ways.
type Transport interface {
	Sender
	Receiver
	Close() error
	Name() string
}

type Direction string

const (
	Rx Direction = "rx"
	Tx Direction = "tx"
)

// Event describes one frame that crossed an Endpoint.
type Event struct {
	Direction Direction
	Transport string
	At        time.Time
	Packet    packet.Packet
}

// Observer is notified of every decoded frame. Observers must not retain ev.
type Observer interface {
	Observe(ctx context.Context, ev *Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev *Event) error

func (f ObserverFunc) Observe(ctx context.Context, ev *Event) error { return f(ctx, ev) }

// IsFrameError reports whether err concerns a single bad frame rather than
// the link itself, so a receive loop can carry on.
func IsFrameError(err error) bool {
	return errors.Is(err, packet.ErrFrameLength) ||
		errors.Is(err, packet.ErrSizeOutOfRange) ||
		errors.Is(err, ErrInvalidPacket) ||
		errors.Is(err, ErrDropped)
}
