package packet

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

func TestLayoutSize(t *testing.T) {
	assert.Equal(t, uintptr(WireSize), unsafe.Sizeof(Packet{}))
	assert.Equal(t, Capacity+4, WireSize)
}

func TestSetPayload_AcceptsEveryLegalLength(t *testing.T) {
	for length := 1; length <= Capacity; length++ {
		buf := filled(length, uint64(length))
		var p Packet
		p.ID = 42
		if !p.SetPayload(buf, length) {
			t.Fatalf("SetPayload(len=%d) returned false", length)
		}
		if int(p.Size) != length {
			t.Fatalf("Size = %d, want %d", p.Size, length)
		}
		if !p.IsValid() {
			t.Fatalf("packet with size %d should be valid", length)
		}
		if !bytes.Equal(p.Data[:length], buf) {
			t.Fatalf("payload mismatch at length %d", length)
		}
		if p.ID != 42 {
			t.Fatalf("ID changed to %d", p.ID)
		}
	}
}

func TestSetPayload_RejectsWithoutMutation(t *testing.T) {
	var orig Packet
	orig.ID = 9
	require.True(t, orig.SetPayload([]byte("hello"), 5))

	big := filled(Capacity+1, 1)
	tests := []struct {
		name   string
		buf    []byte
		length int
	}{
		{"zero length", []byte("abc"), 0},
		{"negative length", []byte("abc"), -1},
		{"over capacity", big, Capacity + 1},
		{"nil buffer", nil, 3},
		{"empty buffer", []byte{}, 1},
		{"length past buffer", []byte("ab"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := orig
			assert.False(t, p.SetPayload(tt.buf, tt.length))
			assert.Equal(t, orig, p)
		})
	}
}

func TestSetPayload_BoundaryCapacity(t *testing.T) {
	var p Packet
	buf := filled(Capacity, 7)
	require.True(t, p.SetPayload(buf, Capacity))
	assert.Equal(t, uint16(Capacity), p.Size)
	assert.Equal(t, buf, p.Data[:])
}

func TestSetPayload_LeavesTailUntouched(t *testing.T) {
	var p Packet
	require.True(t, p.SetPayload(bytes.Repeat([]byte{0xAA}, 10), 10))
	require.True(t, p.SetPayload([]byte{1, 2, 3}, 3))

	assert.Equal(t, []byte{1, 2, 3}, p.Data[:3])
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 7), p.Data[3:10])
}

func TestSetPayload_ShorterLengthThanBuffer(t *testing.T) {
	var p Packet
	require.True(t, p.SetPayload([]byte("abcdef"), 2))
	assert.Equal(t, []byte("ab"), p.Payload())
	assert.Equal(t, byte(0), p.Data[2])
}

func TestClear(t *testing.T) {
	var p Packet
	p.ID = 0xBEEF
	require.True(t, p.SetPayload(filled(Capacity, 3), Capacity))

	p.Clear()
	assert.False(t, p.IsValid())
	assert.Zero(t, p.ID)
	assert.Zero(t, p.Size)
	assert.Equal(t, [Capacity]byte{}, p.Data)

	// idempotent
	p.Clear()
	assert.Equal(t, Packet{}, p)
}

func TestIsValid_DependsOnlyOnSize(t *testing.T) {
	sizes := []uint16{0, 1, 2, 255, Capacity - 1, Capacity, Capacity + 1, 0xFFFF}
	for _, size := range sizes {
		a := Packet{ID: 1, Size: size}
		b := Packet{ID: 0xFFFF, Size: size}
		copy(b.Data[:], filled(Capacity, uint64(size)))
		want := size > 0 && size <= Capacity
		if a.IsValid() != want || b.IsValid() != want {
			t.Errorf("size %d: IsValid = %v/%v, want %v", size, a.IsValid(), b.IsValid(), want)
		}
	}
}

func TestHeaderInfo(t *testing.T) {
	p := Packet{ID: 7}
	require.True(t, p.SetPayload([]byte("xyz"), 3))
	assert.Equal(t, "Packet[id=7, size=3, valid=true]", p.HeaderInfo())
	assert.Equal(t, p.HeaderInfo(), p.String())
	assert.Equal(t, p.HeaderInfo(), fmt.Sprint(&p))

	var empty Packet
	assert.Equal(t, "Packet[id=0, size=0, valid=false]", empty.HeaderInfo())

	over := Packet{ID: 1, Size: Capacity + 1}
	assert.Equal(t, "Packet[id=1, size=513, valid=false]", over.HeaderInfo())
}

func TestHeaderInfo_OmitsPayload(t *testing.T) {
	var p Packet
	require.True(t, p.SetPayload([]byte("SECRET-PAYLOAD"), 14))
	info := p.HeaderInfo()
	assert.False(t, strings.Contains(info, "SECRET"), "header info leaked payload: %q", info)
}

func TestPayload(t *testing.T) {
	var p Packet
	assert.Nil(t, p.Payload())

	require.True(t, p.SetPayload([]byte{9, 8, 7}, 3))
	assert.Equal(t, []byte{9, 8, 7}, p.Payload())

	p.Size = Capacity + 10
	assert.Nil(t, p.Payload())
}
