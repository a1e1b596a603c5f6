package udplink

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the link uses, so tests can run
// without real sockets.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing.
type MockUDPSocket struct {
	mu sync.Mutex

	// Datagrams are returned by ReadFromUDP in order.
	Datagrams []MockDatagram
	// Written records every WriteToUDP call.
	Written []MockDatagram

	ReadError      error
	WriteError     error
	Closed         bool
	ReadBufferSize int
	LocalAddress   *net.UDPAddr

	next int
}

// MockDatagram is one datagram and its remote address.
type MockDatagram struct {
	Data []byte
	Addr *net.UDPAddr
}

func NewMockUDPSocket(datagrams ...MockDatagram) *MockUDPSocket {
	return &MockUDPSocket{
		Datagrams:    datagrams,
		LocalAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7516},
	}
}

// Push queues another datagram for ReadFromUDP.
func (m *MockUDPSocket) Push(d MockDatagram) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Datagrams = append(m.Datagrams, d)
}

// ReadFromUDP returns the next queued datagram, or a timeout when none is
// left.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.next >= len(m.Datagrams) {
		m.mu.Unlock()
		time.Sleep(time.Millisecond) // a real socket would block until the deadline
		m.mu.Lock()
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	d := m.Datagrams[m.next]
	m.next++
	return copy(b, d.Data), d.Addr, nil
}

func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Written = append(m.Written, MockDatagram{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.LocalAddress }

// WrittenDatagrams returns a copy of what has been written so far.
func (m *MockUDPSocket) WrittenDatagrams() []MockDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockDatagram(nil), m.Written...)
}

// MockUDPSocketFactory hands out a prepared socket.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
	// Listened records the addresses passed to ListenUDP.
	Listened []*net.UDPAddr
}

func (f *MockUDPSocketFactory) ListenUDP(_ string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Listened = append(f.Listened, laddr)
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
