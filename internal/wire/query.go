package wire

import (
	"encoding/binary"

	"github.com/strandlabs/vmlink/internal/constants"
)

// ListRecord is one enumerated endpoint, and also the shape of the single
// record carried in a REQ_CONN payload (spec §4.3).
type ListRecord struct {
	Type constants.DeviceType
	Num  uint32 // sub-endpoint number (I2C address, SPI CS, GPIO pin, USB port)
	Name string
}

// recordStride returns the 4-byte-aligned wire size of a record with the
// given name length: an 8-byte sub-header (type, name_len, num) followed by
// the name bytes, padded to a multiple of 4.
func recordStride(nameLen int) int {
	return Pad4(8 + nameLen)
}

// MarshalRecord appends the wire encoding of r to buf and returns the result.
func MarshalRecord(buf []byte, r ListRecord) []byte {
	nameLen := len(r.Name)
	stride := recordStride(nameLen)
	start := len(buf)
	buf = append(buf, make([]byte, stride)...)
	binary.LittleEndian.PutUint16(buf[start:start+2], uint16(uint16(r.Type)))
	binary.LittleEndian.PutUint16(buf[start+2:start+4], uint16(nameLen))
	binary.LittleEndian.PutUint32(buf[start+4:start+8], r.Num)
	copy(buf[start+8:start+8+nameLen], r.Name)
	return buf
}

// UnmarshalRecords decodes a sequence of back-to-back ListRecords out of a
// RSP_LIST payload. It stops cleanly at the end of the slice; a record
// header that doesn't fully fit is treated as the end of valid data.
func UnmarshalRecords(payload []byte) []ListRecord {
	var out []ListRecord
	off := 0
	for off+8 <= len(payload) {
		typ := int16(binary.LittleEndian.Uint16(payload[off : off+2]))
		nameLen := int(binary.LittleEndian.Uint16(payload[off+2 : off+4]))
		num := binary.LittleEndian.Uint32(payload[off+4 : off+8])
		stride := recordStride(nameLen)
		if off+stride > len(payload) {
			break
		}
		name := string(payload[off+8 : off+8+nameLen])
		out = append(out, ListRecord{Type: constants.DeviceType(typ), Num: num, Name: name})
		off += stride
	}
	return out
}

// ConnAssign is the decoded payload of an RSP_CONN response.
type ConnAssign struct {
	ConnID  uint16 // hflag; constants.QueryConn means rejected
	Credit  uint32 // optional initial credit, present iff payload carries 4 bytes
	HasInit bool
}

// UnmarshalConnAssign decodes the optional u32 initial-credit payload carried
// by RSP_CONN (spec §4.3).
func UnmarshalConnAssign(h Header, payload []byte) ConnAssign {
	ca := ConnAssign{ConnID: h.HFlag}
	if len(payload) >= 4 {
		ca.Credit = binary.LittleEndian.Uint32(payload[0:4])
		ca.HasInit = true
	}
	return ca
}
