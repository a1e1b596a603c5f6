package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// DisabledSerialMux is a no-op SerialMux implementation used when no UART
// hardware is attached. It allows the daemon and admin routes to run
// without a real device. Subscribers are tracked so their channels can be
// deterministically closed on Unsubscribe() or Close(), allowing readers to
// unblock predictably during shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan packet.Packet
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan packet.Packet),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan packet.Packet) {
	id := randomID()
	ch := make(chan packet.Packet)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendPacket still refuses invalid packets so callers see the same
// contract with and without hardware.
func (d *DisabledSerialMux) SendPacket(_ context.Context, p *packet.Packet) error {
	if !p.IsValid() {
		return transport.ErrInvalidPacket
	}
	return nil
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Stats() Stats { return Stats{} }

func (d *DisabledSerialMux) Transport() transport.Transport {
	id, ch := d.Subscribe()
	return &muxTransport{
		name:   "uart-disabled",
		send:   func(context.Context, []byte) error { return nil },
		unsub:  func() { d.Unsubscribe(id) },
		ch:     ch,
		closed: make(chan struct{}),
	}
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux, _ SendFunc) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
