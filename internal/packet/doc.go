// Package packet defines the fixed-layout envelope exchanged between two
// endpoints over byte-oriented links such as BLE characteristics and UART.
//
// A frame on the wire is always WireSize bytes:
//
//	offset 0  uint16 LE  id    (BLE connection handle / UART sender, 0 = broadcast)
//	offset 2  uint16 LE  size  (meaningful payload bytes, 0 < size <= Capacity)
//	offset 4  [Capacity]byte   payload followed by filler
//
// The fixed length is the only framing. Packet performs no I/O beyond the
// codec helpers and has no internal synchronisation.
package packet
