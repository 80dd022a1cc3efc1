package wire

import (
	"encoding/binary"

	"github.com/strandlabs/vmlink/internal/constants"
)

// ControlWord is the 64-bit CAN control word preceding frame data (spec §6
// glossary). Bit layout:
//
//	DLC   bits[3:0]   4-bit length code, indexes constants.CanDLCLength
//	ESI   bit 11      error state indicator
//	BRS   bit 12      bit rate switch
//	EDL   bit 14      extended data length (CAN-FD)
//	ERTR  bit 15      extended remote transmission request
//	EID   bits[33:16] 18-bit extended identifier
//	IDE   bit 34      identifier extension (29-bit ID in use)
//	RTR   bit 35      remote transmission request
//	ID    bits[46:36] 11-bit standard identifier
//	FDF   bit 48      FD format indicator
//	XLF   bit 49      CAN-XL format indicator
type ControlWord uint64

func bits(w uint64, lo, width uint) uint64 {
	return (w >> lo) & ((1 << width) - 1)
}

func setBits(w uint64, lo, width uint, v uint64) uint64 {
	mask := ((uint64(1) << width) - 1) << lo
	return (w &^ mask) | ((v << lo) & mask)
}

func (w ControlWord) DLC() uint8   { return uint8(bits(uint64(w), 0, 4)) }
func (w ControlWord) ESI() bool    { return bits(uint64(w), 11, 1) != 0 }
func (w ControlWord) BRS() bool    { return bits(uint64(w), 12, 1) != 0 }
func (w ControlWord) EDL() bool    { return bits(uint64(w), 14, 1) != 0 }
func (w ControlWord) ERTR() bool   { return bits(uint64(w), 15, 1) != 0 }
func (w ControlWord) EID() uint32  { return uint32(bits(uint64(w), 16, 18)) }
func (w ControlWord) IDE() bool    { return bits(uint64(w), 34, 1) != 0 }
func (w ControlWord) RTR() bool    { return bits(uint64(w), 35, 1) != 0 }
func (w ControlWord) ID() uint16   { return uint16(bits(uint64(w), 36, 11)) }
func (w ControlWord) FDF() bool    { return bits(uint64(w), 48, 1) != 0 }
func (w ControlWord) XLF() bool    { return bits(uint64(w), 49, 1) != 0 }

func (w ControlWord) WithDLC(v uint8) ControlWord {
	return ControlWord(setBits(uint64(w), 0, 4, uint64(v)))
}
func (w ControlWord) WithID(v uint16) ControlWord {
	return ControlWord(setBits(uint64(w), 36, 11, uint64(v)))
}
func (w ControlWord) WithIDE(v bool) ControlWord {
	return ControlWord(setBits(uint64(w), 34, 1, boolBit(v)))
}
func (w ControlWord) WithRTR(v bool) ControlWord {
	return ControlWord(setBits(uint64(w), 35, 1, boolBit(v)))
}
func (w ControlWord) WithEID(v uint32) ControlWord {
	return ControlWord(setBits(uint64(w), 16, 18, uint64(v)))
}

func boolBit(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// DataLen returns the CAN-FD/XL frame data length named by the DLC field,
// via the fixed lookup table (spec §3).
func (w ControlWord) DataLen() int {
	return constants.CanDLCLength[w.DLC()&0xF]
}

// FrameControl is the 16-byte control-word pair at the start of every CAN
// TX/RX payload (spec §4.4.6): the primary control word plus an extended
// control word reserved for CAN-XL headers and otherwise passed through
// opaque.
type FrameControl struct {
	Word    ControlWord
	ExtWord uint64
}

// MarshalFrameControl writes the 16-byte control-word pair into buf.
func MarshalFrameControl(buf []byte, fc FrameControl) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(fc.Word))
	binary.LittleEndian.PutUint64(buf[8:16], fc.ExtWord)
}

// UnmarshalFrameControl reads the 16-byte control-word pair from buf.
func UnmarshalFrameControl(buf []byte) (FrameControl, error) {
	if len(buf) < 16 {
		return FrameControl{}, ErrShort
	}
	return FrameControl{
		Word:    ControlWord(binary.LittleEndian.Uint64(buf[0:8])),
		ExtWord: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}
