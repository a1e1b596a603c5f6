package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrFrameLength    = errors.New("packet: frame length must be exactly WireSize bytes")
	ErrSizeOutOfRange = errors.New("packet: size field exceeds capacity")
)

// Encode writes the wire form of p into dst, which must hold at least
// WireSize bytes. Packets whose Size exceeds Capacity are refused.
func (p *Packet) Encode(dst []byte) error {
	if len(dst) < WireSize {
		return fmt.Errorf("%w: destination has %d bytes", ErrFrameLength, len(dst))
	}
	if p.Size > Capacity {
		return fmt.Errorf("%w: %d", ErrSizeOutOfRange, p.Size)
	}
	binary.LittleEndian.PutUint16(dst[0:2], p.ID)
	binary.LittleEndian.PutUint16(dst[2:4], p.Size)
	copy(dst[HeaderSize:WireSize], p.Data[:])
	return nil
}

// AppendBinary appends the wire form of p to b.
func (p *Packet) AppendBinary(b []byte) ([]byte, error) {
	n := len(b)
	b = append(b, make([]byte, WireSize)...)
	if err := p.Encode(b[n:]); err != nil {
		return b[:n], err
	}
	return b, nil
}

// MarshalBinary returns a freshly allocated WireSize frame.
func (p *Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, WireSize))
}

// UnmarshalBinary replaces p with the decoded frame. On error p is left
// unchanged.
func (p *Packet) UnmarshalBinary(b []byte) error {
	q, err := Decode(b)
	if err != nil {
		return err
	}
	*p = q
	return nil
}

// Decode parses one frame. A size field of zero decodes to an invalid
// packet without error; a size above Capacity is rejected so no Packet
// ever carries an out-of-range Size.
func Decode(b []byte) (Packet, error) {
	if len(b) != WireSize {
		return Packet{}, fmt.Errorf("%w: got %d", ErrFrameLength, len(b))
	}
	size := binary.LittleEndian.Uint16(b[2:4])
	if size > Capacity {
		return Packet{}, fmt.Errorf("%w: %d", ErrSizeOutOfRange, size)
	}
	p := Packet{
		ID:   binary.LittleEndian.Uint16(b[0:2]),
		Size: size,
	}
	copy(p.Data[:], b[HeaderSize:])
	return p, nil
}

// ReadFrame reads exactly one frame from r. A stream that ends part way
// through a frame reports io.ErrUnexpectedEOF; a clean end reports io.EOF.
func (p *Packet) ReadFrame(r io.Reader) (int64, error) {
	var buf [WireSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(n), err
	}
	return int64(n), p.UnmarshalBinary(buf[:])
}

// WriteFrame writes the wire form of p to w in a single Write call.
func (p *Packet) WriteFrame(w io.Writer) (int64, error) {
	var buf [WireSize]byte
	if err := p.Encode(buf[:]); err != nil {
		return 0, err
	}
	n, err := w.Write(buf[:])
	if err == nil && n != WireSize {
		err = io.ErrShortWrite
	}
	return int64(n), err
}
