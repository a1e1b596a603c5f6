// Package capture reads and writes pcap files whose records are raw
// framelink frames, so traffic can be inspected with standard pcap tooling
// and replayed later.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// LinkType is DLT_USER0, the pcap link type reserved for private use.
const LinkType = layers.LinkType(147)

var ErrLinkType = errors.New("capture: not a framelink capture")

// Writer appends frames to a pcap stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  uint64
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(packet.WireSize, LinkType); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// Create truncates path and returns a Writer that owns the file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WritePacket records p as one WireSize frame stamped with ts.
func (w *Writer) WritePacket(ts time.Time, p packet.Packet) error {
	var frame [packet.WireSize]byte
	if err := p.Encode(frame[:]); err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: packet.WireSize,
		Length:        packet.WireSize,
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.WritePacket(ci, frame[:]); err != nil {
		return err
	}
	w.count++
	return nil
}

// Observe implements transport.Observer.
func (w *Writer) Observe(_ context.Context, ev *transport.Event) error {
	return w.WritePacket(ev.At, ev.Packet)
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file when the Writer was made by Create.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader iterates over the frames of a capture.
type Reader struct {
	r      *pcapgo.Reader
	closer io.Closer
}

// NewReader reads the pcap header from r and checks the link type.
func NewReader(r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if pr.LinkType() != LinkType {
		return nil, fmt.Errorf("%w: link type %d", ErrLinkType, pr.LinkType())
	}
	return &Reader{r: pr}, nil
}

// OpenFile opens a capture file for reading.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next record. Records that are not a decodable frame are
// returned as errors wrapping packet.ErrFrameLength or
// packet.ErrSizeOutOfRange; reading may continue after them. io.EOF marks
// the end of the capture.
func (r *Reader) Next() (time.Time, packet.Packet, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		return time.Time{}, packet.Packet{}, err
	}
	if ci.CaptureLength != ci.Length {
		return ci.Timestamp, packet.Packet{}, fmt.Errorf("%w: record truncated to %d of %d bytes",
			packet.ErrFrameLength, ci.CaptureLength, ci.Length)
	}
	p, err := packet.Decode(data)
	return ci.Timestamp, p, err
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Replay calls fn for every decodable record until the capture ends, ctx is
// cancelled or fn returns an error. Undecodable records are skipped and
// counted. Replay returns nil at the end of the capture.
func Replay(ctx context.Context, r *Reader, fn func(ts time.Time, p packet.Packet) error) (skipped int, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		ts, p, err := r.Next()
		switch {
		case errors.Is(err, io.EOF):
			return skipped, nil
		case transport.IsFrameError(err):
			skipped++
			continue
		case err != nil:
			return skipped, err
		}
		if err := fn(ts, p); err != nil {
			return skipped, err
		}
	}
}
