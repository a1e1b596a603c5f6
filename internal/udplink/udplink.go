// Package udplink carries packet frames over UDP, one frame per datagram.
package udplink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/framelink/internal/config"
	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// ErrNoPeer is returned by Send before any peer is known.
var ErrNoPeer = errors.New("udplink: no peer address")

// pollInterval bounds how long a read blocks before ctx is checked again.
const pollInterval = 100 * time.Millisecond

// Link is a transport.Transport over a UDP socket. Without a configured
// peer, replies go to the address of the most recent valid datagram.
type Link struct {
	sock UDPSocket
	name string

	peerMu    sync.RWMutex
	peer      *net.UDPAddr
	learnPeer bool

	readMu sync.Mutex
	buf    []byte

	closed    atomic.Bool
	closeOnce sync.Once
}

// Listen opens a link on cfg.Listen using factory. A nil factory uses real
// sockets.
func Listen(factory UDPSocketFactory, cfg config.UDPConfig) (*Link, error) {
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	var peer *net.UDPAddr
	if cfg.Peer != "" {
		if peer, err = net.ResolveUDPAddr("udp", cfg.Peer); err != nil {
			return nil, fmt.Errorf("failed to resolve UDP peer: %w", err)
		}
	}
	sock, err := factory.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer to %d: %v", cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("UDP link listening on %s", sock.LocalAddr())
	return &Link{
		sock:      sock,
		name:      "udp",
		peer:      peer,
		learnPeer: peer == nil,
		// one spare byte so oversized datagrams are detected rather than
		// silently truncated to a valid length
		buf: make([]byte, packet.WireSize+1),
	}, nil
}

func (l *Link) Name() string { return l.name }

// LocalAddr returns the bound address.
func (l *Link) LocalAddr() net.Addr { return l.sock.LocalAddr() }

// Peer returns the current destination for Send, or nil.
func (l *Link) Peer() *net.UDPAddr {
	l.peerMu.RLock()
	defer l.peerMu.RUnlock()
	return l.peer
}

// SetPeer fixes the destination for Send.
func (l *Link) SetPeer(addr *net.UDPAddr) {
	l.peerMu.Lock()
	l.peer = addr
	l.learnPeer = false
	l.peerMu.Unlock()
}

func (l *Link) Send(ctx context.Context, _ uint16, frame []byte) error {
	if len(frame) != packet.WireSize {
		return fmt.Errorf("%w: got %d", packet.ErrFrameLength, len(frame))
	}
	if l.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	peer := l.Peer()
	if peer == nil {
		return ErrNoPeer
	}
	n, err := l.sock.WriteToUDP(frame, peer)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("udplink: short write (%d of %d bytes)", n, len(frame))
	}
	return nil
}

// Receive returns the next datagram. Datagrams of the wrong length are
// reported as packet.ErrFrameLength.
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.closed.Load() {
			return nil, transport.ErrClosed
		}
		_ = l.sock.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := l.sock.ReadFromUDP(l.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		if n != packet.WireSize {
			return nil, fmt.Errorf("%w: datagram of %d bytes from %v", packet.ErrFrameLength, n, addr)
		}
		frame := make([]byte, n)
		copy(frame, l.buf[:n])
		l.learn(frame, addr)
		return frame, nil
	}
}

// learn adopts addr as the peer when frame decodes to a valid packet.
func (l *Link) learn(frame []byte, addr *net.UDPAddr) {
	p, err := packet.Decode(frame)
	if err != nil || !p.IsValid() {
		return
	}
	l.peerMu.Lock()
	if l.learnPeer {
		l.peer = addr
	}
	l.peerMu.Unlock()
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.sock.Close()
	})
	return err
}
