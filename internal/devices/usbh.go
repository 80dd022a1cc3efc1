package devices

import (
	"encoding/binary"

	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

const (
	usbhStall = -2
)

func usbhFields(hflag uint16) (token, ep, dev uint8, end bool) {
	token = uint8(hflag & 0xF)
	ep = uint8((hflag >> 4) & 0xF)
	dev = uint8((hflag >> 8) & 0x7F)
	end = hflag&0x8000 != 0
	return
}

func extBusyIndex(ep, tkn uint8) uint {
	return uint(ep)*4 + uint(tkn)
}

func advanceUSBH(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.USBHCallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}

		switch pkt.Pkt {
		case constants.UsbhReset:
			ep.ExtBusy = 0
			ep.PopHead()
			if cb != nil && cb.Reset != nil {
				cb.Reset(ep.Priv)
			}
			ep.ResetQueuePointer()

		case constants.UsbhXfr:
			tkn, epNum, dev, end := usbhFields(pkt.HFlag)

			if tkn != constants.UsbTokenSetup {
				idx := extBusyIndex(epNum, tkn)
				if ep.ExtBusy&(1<<idx) != 0 {
					ep.Busy = true
					return
				}
			}

			var buf []byte
			if tkn == constants.UsbTokenIn {
				length := 0
				if len(pkt.Data) >= 2 {
					length = int(binary.LittleEndian.Uint16(pkt.Data[0:2]))
				}
				if length > len(ep.Scratch) {
					length = len(ep.Scratch)
				}
				buf = ep.Scratch[:length]
			} else {
				buf = pkt.Data
			}

			var n int
			if cb == nil || cb.Xfr == nil {
				n = len(buf)
			} else {
				n = cb.Xfr(ep.Priv, dev, epNum, tkn, buf, end)
			}

			switch {
			case n == interfaces.NAK:
				if tkn != constants.UsbTokenSetup {
					idx := extBusyIndex(epNum, tkn)
					ep.ExtBusy |= 1 << idx
				}
				ep.Busy = true
				return

			case n == usbhStall:
				ep.PopHead()
				if tkn != constants.UsbTokenSetup {
					sendUSBHDone(pkt.HFlag, true, nil, send)
				}

			default:
				ep.PopHead()
				if tkn == constants.UsbTokenSetup {
					continue
				}
				if tkn == constants.UsbTokenIn {
					sendUSBHDone(pkt.HFlag, false, ep.Scratch[:n], send)
				} else {
					lenField := make([]byte, 2)
					binary.LittleEndian.PutUint16(lenField, uint16(n))
					sendUSBHDone(pkt.HFlag, false, lenField, send)
				}
			}

		default:
			ep.PopHead()
		}
	}
}

func sendUSBHDone(reqHFlag uint16, stall bool, payload []byte, send SendFunc) {
	hflag := reqHFlag &^ 0x8000
	if stall {
		hflag |= 0x8000
	}
	send(wire.Header{Pkt: constants.UsbhDone, HFlag: hflag}, payload)
}

// USBHReady implements usbh_ready: clears the extended-busy bit for the
// given (ep, tkn) pair and re-advances the queue (spec §4.4.5).
func USBHReady(ep *Endpoint, epNum, tkn uint8, send SendFunc) {
	idx := extBusyIndex(epNum, tkn)
	ep.ExtBusy &^= 1 << idx
	ep.Busy = false
	advanceUSBH(ep, send)
}
