// Package wire implements the packet frame and query-record marshaling for
// the VM link protocol (spec §3, §4.2, §4.3). All multi-byte fields are
// little-endian; structs are marshaled by hand with encoding/binary rather
// than via unsafe casts.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/strandlabs/vmlink/internal/constants"
)

// ErrShort is returned when a byte slice is too small to hold a structure
// being unmarshaled.
var ErrShort = errors.New("wire: insufficient data")

// Header is the fixed 8-byte packet header (spec §3).
type Header struct {
	Len   uint16 // total packet length, header included, padding excluded
	Conn  uint16 // connection index; constants.QueryConn for the query conn
	Pkt   uint8  // per-connection packet type
	BFlag uint8  // per-packet byte flag
	HFlag uint16 // per-packet half-word flag
}

// MarshalHeader writes h into the first 8 bytes of buf. buf must be at
// least 8 bytes.
func MarshalHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:2], h.Len)
	binary.LittleEndian.PutUint16(buf[2:4], h.Conn)
	buf[4] = h.Pkt
	buf[5] = h.BFlag
	binary.LittleEndian.PutUint16(buf[6:8], h.HFlag)
}

// UnmarshalHeader reads the first 8 bytes of buf into a Header.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < constants.HeaderSize {
		return Header{}, ErrShort
	}
	return Header{
		Len:   binary.LittleEndian.Uint16(buf[0:2]),
		Conn:  binary.LittleEndian.Uint16(buf[2:4]),
		Pkt:   buf[4],
		BFlag: buf[5],
		HFlag: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// Packet is a fully-assembled frame: header plus payload (payload excludes
// the header and any wire padding).
type Packet struct {
	Header
	Data []byte
}

// Pad4 rounds n up to the next multiple of 4.
func Pad4(n int) int {
	return (n + 3) &^ 3
}

// Build marshals a packet (header + payload) into a newly allocated,
// 4-byte-padded wire buffer with zeroed pad bytes, ready for the outbound
// FIFO (spec §4.1).
func Build(h Header, payload []byte) []byte {
	h.Len = uint16(constants.HeaderSize + len(payload))
	padded := Pad4(int(h.Len))
	buf := make([]byte, padded)
	MarshalHeader(buf, h)
	copy(buf[constants.HeaderSize:], payload)
	return buf
}
