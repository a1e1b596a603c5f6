// Package serialmux provides an abstraction over a serial port carrying
// fixed-size packet frames, with the ability for multiple clients to
// subscribe to received packets and send packets to a single device.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// SubscriberBuffer is the number of packets queued per subscriber before
// further packets are dropped for that subscriber.
const SubscriberBuffer = 16

// DefaultName labels metrics and logs for a mux when WithName is not used.
const DefaultName = "uart"

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to packets from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	name         string
	limiter      *rate.Limiter
	subscribers  map[string]chan packet.Packet
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	received atomic.Uint64
	sent     atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving packets from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan packet.Packet)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendPacket writes one frame for the packet to the serial port.
	SendPacket(context.Context, *packet.Packet) error
	// Monitor reads frames from the serial port and fans them out to
	// subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Stats returns frame counters since the mux was created.
	Stats() Stats
	// Transport exposes the mux as a transport.Transport backed by its own
	// subscription.
	Transport() transport.Transport

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible. A non-nil
	// SendFunc carries packets posted from the debug page.
	AttachAdminRoutes(*http.ServeMux, SendFunc)
}

// Stats counts frames seen by a mux.
type Stats struct {
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}

// Option configures a SerialMux.
type Option func(*muxOptions)

type muxOptions struct {
	name  string
	limit rate.Limit
}

// WithName sets the transport name used in logs and metrics.
func WithName(name string) Option {
	return func(o *muxOptions) { o.name = name }
}

// WithPacing limits outbound frames to the number the given baud rate can
// carry, see FrameRate.
func WithPacing(baudRate int) Option {
	return func(o *muxOptions) { o.limit = FrameRate(baudRate) }
}

// FrameRate is the number of whole frames per second a UART at baudRate can
// move, assuming 10 bit times per byte (8N1).
func FrameRate(baudRate int) rate.Limit {
	if baudRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(baudRate) / 10 / packet.WireSize)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T, opts ...Option) *SerialMux[T] {
	o := muxOptions{name: DefaultName, limit: rate.Inf}
	for _, opt := range opts {
		opt(&o)
	}
	s := &SerialMux[T]{
		port:        port,
		name:        o.name,
		subscribers: make(map[string]chan packet.Packet),
	}
	if o.limit != rate.Inf {
		s.limiter = rate.NewLimiter(o.limit, 1)
	}
	return s
}

// randomID generates a random subscriber ID.
func randomID() string {
	return uuid.NewString()
}

func (s *SerialMux[T]) Name() string { return s.name }

func (s *SerialMux[T]) Subscribe() (string, chan packet.Packet) {
	id := randomID()
	ch := make(chan packet.Packet, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendPacket validates p and writes its frame to the serial port. Invalid
// packets are refused before anything is written.
func (s *SerialMux[T]) SendPacket(ctx context.Context, p *packet.Packet) error {
	if !p.IsValid() {
		s.rejected.Add(1)
		return fmt.Errorf("%w: %s", transport.ErrInvalidPacket, p.HeaderInfo())
	}
	var frame [packet.WireSize]byte
	if err := p.Encode(frame[:]); err != nil {
		return err
	}
	return s.writeFrame(ctx, frame[:])
}

func (s *SerialMux[T]) writeFrame(ctx context.Context, frame []byte) error {
	if len(frame) != packet.WireSize {
		return fmt.Errorf("%w: got %d", packet.ErrFrameLength, len(frame))
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	s.sent.Add(1)
	return nil
}

// Monitor monitors the serial port for frames and sends the decoded packets
// to subscribers. Frames whose size field is out of range are dropped; the
// stream stays aligned because every frame has the same length.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	packetChan := make(chan packet.Packet)
	readErrChan := make(chan error, 1)

	// the blocking reads will not interfere with our outer loop awaiting
	// packets & context cancellation.
	go func() {
		defer close(packetChan)
		var frame [packet.WireSize]byte
		for {
			if _, err := io.ReadFull(s.port, frame[:]); err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			p, err := packet.Decode(frame[:])
			if err != nil {
				s.rejected.Add(1)
				monitoring.FrameRejected(s.name, monitoring.ReasonSize)
				monitoring.Logf("%s: dropping frame: %v", s.name, err)
				continue
			}
			select {
			case packetChan <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case p, ok := <-packetChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				select {
				case err := <-readErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.received.Add(1)
			s.publish(p)
		}
	}
}

func (s *SerialMux[T]) publish(p packet.Packet) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- p:
		default:
			// if the channel is full skip so as not to block the outer loop
			s.dropped.Add(1)
			monitoring.SubscriberDropped(s.name)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Sent:     s.sent.Load(),
		Rejected: s.rejected.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
