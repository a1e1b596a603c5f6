package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/timeutil"
)

// Endpoint sends and receives Packets over a Transport. It is safe for one
// sender and one receiver to use concurrently if the Transport is.
type Endpoint struct {
	t         Transport
	observers []Observer
	clock     timeutil.Clock
}

func NewEndpoint(t Transport, observers ...Observer) *Endpoint {
	return &Endpoint{t: t, observers: observers, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp observer events.
func (e *Endpoint) SetClock(c timeutil.Clock) {
	e.clock = c
}

// AddObserver registers o for subsequent frames. Not safe to call while
// the endpoint is in use.
func (e *Endpoint) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

func (e *Endpoint) Transport() Transport { return e.t }

// Send encodes p and hands it to the transport addressed to p.ID. Invalid
// packets are never put on the wire.
func (e *Endpoint) Send(ctx context.Context, p *packet.Packet) error {
	name := e.t.Name()
	if !p.IsValid() {
		monitoring.FrameRejected(name, monitoring.ReasonInvalid)
		return fmt.Errorf("%w: %s", ErrInvalidPacket, p.HeaderInfo())
	}
	var frame [packet.WireSize]byte
	if err := p.Encode(frame[:]); err != nil {
		return err
	}
	if err := e.t.Send(ctx, p.ID, frame[:]); err != nil {
		monitoring.FrameRejected(name, monitoring.ReasonTransport)
		return fmt.Errorf("%s send: %w", name, err)
	}
	monitoring.FrameSent(name, int(p.Size))
	e.notify(ctx, Tx, p)
	return nil
}

// Receive blocks for the next frame. Frames that decode but are not valid
// are returned together with ErrInvalidPacket so callers can inspect the
// header.
func (e *Endpoint) Receive(ctx context.Context) (packet.Packet, error) {
	name := e.t.Name()
	frame, err := e.t.Receive(ctx)
	if err != nil {
		if errors.Is(err, packet.ErrFrameLength) {
			monitoring.FrameRejected(name, monitoring.ReasonLength)
		}
		return packet.Packet{}, err
	}
	p, err := packet.Decode(frame)
	if err != nil {
		reason := monitoring.ReasonLength
		if errors.Is(err, packet.ErrSizeOutOfRange) {
			reason = monitoring.ReasonSize
		}
		monitoring.FrameRejected(name, reason)
		return packet.Packet{}, fmt.Errorf("%s receive: %w", name, err)
	}
	monitoring.FrameReceived(name, int(p.Size))
	e.notify(ctx, Rx, &p)
	if !p.IsValid() {
		monitoring.FrameRejected(name, monitoring.ReasonInvalid)
		return p, fmt.Errorf("%w: %s", ErrInvalidPacket, p.HeaderInfo())
	}
	return p, nil
}

// Run receives until ctx is done or the transport fails, passing valid
// packets to handle. Bad frames are logged and skipped.
func (e *Endpoint) Run(ctx context.Context, handle func(packet.Packet)) error {
	for {
		p, err := e.Receive(ctx)
		switch {
		case err == nil:
			handle(p)
		case IsFrameError(err):
			monitoring.Logf("%s: dropping frame: %v", e.t.Name(), err)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
	}
}

func (e *Endpoint) Close() error {
	return e.t.Close()
}

func (e *Endpoint) notify(ctx context.Context, dir Direction, p *packet.Packet) {
	if len(e.observers) == 0 {
		return
	}
	ev := &Event{Direction: dir, Transport: e.t.Name(), At: e.clock.Now(), Packet: *p}
	for _, o := range e.observers {
		if err := o.Observe(ctx, ev); err != nil {
			monitoring.Logf("%s: observer failed for %s: %v", ev.Transport, p.HeaderInfo(), err)
		}
	}
}
