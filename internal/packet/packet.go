package packet

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const (
	// Capacity is the maximum payload carried by a single frame.
	Capacity = 512
	// HeaderSize is the combined width of the id and size fields.
	HeaderSize = 4
	// WireSize is the serialised length of every frame.
	WireSize = HeaderSize + Capacity

	// BroadcastID addresses no specific peer. It is a convention for
	// transports and applications; Packet never checks it.
	BroadcastID uint16 = 0
)

// Packet is one frame. Only Data[:Size] is defined content.
type Packet struct {
	ID   uint16
	Size uint16
	Data [Capacity]byte
}

// Both expressions overflow uintptr, failing the build, unless the native
// layout is exactly WireSize bytes with no padding.
const (
	_ = uintptr(WireSize) - unsafe.Sizeof(Packet{})
	_ = unsafe.Sizeof(Packet{}) - uintptr(WireSize)
)

func init() {
	if n := binary.Size(Packet{}); n != WireSize {
		panic(fmt.Sprintf("packet: encoded layout is %d bytes, want %d", n, WireSize))
	}
}

// IsValid reports whether 0 < Size <= Capacity. Data is not inspected.
func (p *Packet) IsValid() bool {
	return p.Size > 0 && p.Size <= Capacity
}

// Clear zeroes the id, the size and the whole data buffer.
func (p *Packet) Clear() {
	p.ID = 0
	p.Size = 0
	clear(p.Data[:])
}

// SetPayload copies buf[:length] into Data and sets Size. It returns false
// without touching the packet when buf is empty or length is outside
// (0, Capacity] or longer than buf. ID is left unchanged, as are the bytes
// of Data past length.
func (p *Packet) SetPayload(buf []byte, length int) bool {
	if len(buf) == 0 || length <= 0 || length > Capacity || length > len(buf) {
		return false
	}
	copy(p.Data[:length], buf[:length])
	p.Size = uint16(length)
	return true
}

// Payload returns the meaningful bytes, aliasing Data, or nil when the
// packet is not valid.
func (p *Packet) Payload() []byte {
	if !p.IsValid() {
		return nil
	}
	return p.Data[:p.Size]
}

// HeaderInfo summarises the envelope metadata. Payload bytes are never
// included.
func (p *Packet) HeaderInfo() string {
	return fmt.Sprintf("Packet[id=%d, size=%d, valid=%t]", p.ID, p.Size, p.IsValid())
}

// String implements fmt.Stringer for *Packet.
func (p *Packet) String() string {
	return p.HeaderInfo()
}
