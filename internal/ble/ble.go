// Package ble carries packet frames over a GATT characteristic pair: frames
// are written to the peer's RX characteristic and arrive as notifications
// on its TX characteristic. The BLE stack itself (scanning, connection,
// MTU negotiation, long writes) is provided by the caller through
// Characteristic.
package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// Nordic UART Service UUIDs, the usual home for framelink on BLE peripherals.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	RxCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // central writes
	TxCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // peripheral notifies
)

// DefaultQueueDepth bounds received frames waiting for Receive.
const DefaultQueueDepth = 32

// ErrQueueFull is returned by the first Receive after notifications were
// dropped because the queue was full. It wraps transport.ErrDropped.
var ErrQueueFull = fmt.Errorf("ble: receive queue full: %w", transport.ErrDropped)

// Characteristic is the slice of a BLE stack the link needs.
type Characteristic interface {
	// WriteValue writes b to the peer in a single (possibly long) write.
	WriteValue(b []byte) error
	// Subscribe enables notifications and calls fn with each value. fn may
	// be called from any goroutine and must not retain b.
	Subscribe(fn func(b []byte)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
}

// Link is a transport.Transport over one BLE connection.
type Link struct {
	char       Characteristic
	connHandle uint16
	name       string

	queue     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	overflow atomic.Uint64
	badLen   atomic.Uint64
	// unreported counts overflow drops not yet surfaced by Receive.
	unreported atomic.Uint64
}

type Option func(*Link)

// WithName overrides the transport name, "ble" by default.
func WithName(name string) Option {
	return func(l *Link) { l.name = name }
}

// WithQueueDepth sets how many received frames are buffered.
func WithQueueDepth(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.queue = make(chan []byte, n)
		}
	}
}

// Open subscribes to char and returns a link for the connection identified
// by connHandle.
func Open(char Characteristic, connHandle uint16, opts ...Option) (*Link, error) {
	l := &Link{
		char:       char,
		connHandle: connHandle,
		name:       "ble",
		queue:      make(chan []byte, DefaultQueueDepth),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := char.Subscribe(l.onNotify); err != nil {
		return nil, fmt.Errorf("ble: subscribe: %w", err)
	}
	return l, nil
}

func (l *Link) Name() string { return l.name }

// ConnHandle identifies the peer; it is the id inbound packets from this
// link are expected to carry.
func (l *Link) ConnHandle() uint16 { return l.connHandle }

func (l *Link) onNotify(b []byte) {
	select {
	case <-l.closed:
		return
	default:
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	select {
	case l.queue <- frame:
	default:
		l.overflow.Add(1)
		l.unreported.Add(1)
		monitoring.FrameRejected(l.name, monitoring.ReasonOverflow)
		monitoring.Logf("%s: receive queue full, dropping %d byte notification", l.name, len(b))
	}
}

// Send writes frame as one characteristic value. dest is not used on the
// air; a BLE link has exactly one peer.
func (l *Link) Send(ctx context.Context, _ uint16, frame []byte) error {
	if len(frame) != packet.WireSize {
		return fmt.Errorf("%w: got %d", packet.ErrFrameLength, len(frame))
	}
	select {
	case <-l.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.char.WriteValue(frame)
}

// Receive returns the next notification. Notifications that are not
// exactly one frame are reported as packet.ErrFrameLength; the link does
// not reassemble. After an overflow the next call returns ErrQueueFull
// before any queued frame.
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	if n := l.unreported.Swap(0); n > 0 {
		return nil, fmt.Errorf("%w: %d notifications lost", ErrQueueFull, n)
	}
	select {
	case frame := <-l.queue:
		if len(frame) != packet.WireSize {
			l.badLen.Add(1)
			return nil, fmt.Errorf("%w: notification of %d bytes", packet.ErrFrameLength, len(frame))
		}
		return frame, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns notifications lost to a full queue and those rejected for
// their length.
func (l *Link) Dropped() (overflow, badLength uint64) {
	return l.overflow.Load(), l.badLen.Load()
}

// Close unsubscribes from the characteristic. It does not disconnect.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.char.Unsubscribe()
	})
	return err
}
