package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

func advanceI2C(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.I2CCallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}
		ep.TrnIdx = pkt.HFlag
		ackExpected := pkt.BFlag&0x01 != 0

		switch pkt.Pkt {
		case constants.I2CStart:
			var result int
			if cb == nil || cb.Start == nil {
				result = 1
			} else {
				result = cb.Start(ep.Priv)
			}
			if result == interfaces.Stall {
				ep.Busy = true
				return
			}
			ep.PopHead()
			if ackExpected {
				nakBit := uint8(0)
				if result == interfaces.NAK {
					nakBit = 1
				}
				sendI2CDone(ep, nakBit, nil, send)
			}

		case constants.I2CWrite:
			data := pkt.Data[ep.Offset:]
			var n int
			if cb == nil || cb.Write == nil {
				n = len(data)
			} else {
				n = cb.Write(ep.Priv, data)
			}
			if n == interfaces.Stall {
				ep.Busy = true
				return
			}
			if n == interfaces.NAK {
				ep.PopHead()
				if ackExpected {
					sendI2CDone(ep, 1, nil, send)
				}
				continue
			}
			ep.Offset += uint32(n)
			if int(ep.Offset) >= len(pkt.Data) {
				ep.PopHead()
				if ackExpected {
					sendI2CDone(ep, 0, nil, send)
				}
			}

		case constants.I2CRead:
			want := int(pkt.BFlag)
			remaining := want - int(ep.Offset)
			var n int
			if cb == nil || cb.Read == nil {
				n = remaining
			} else {
				n = cb.Read(ep.Priv, ep.Scratch[ep.Offset:want])
			}
			if n == interfaces.Stall {
				ep.Busy = true
				return
			}
			ep.Offset += uint32(n)
			if int(ep.Offset) >= want {
				ep.PopHead()
				sendI2CDone(ep, 0, ep.Scratch[:want], send)
			}

		case constants.I2CStop:
			ep.PopHead()
			if cb != nil && cb.Stop != nil {
				cb.Stop(ep.Priv)
			}

		default:
			ep.PopHead()
		}
	}
}

func sendI2CDone(ep *Endpoint, nakBit uint8, data []byte, send SendFunc) {
	send(wire.Header{Pkt: constants.I2CDone, BFlag: nakBit, HFlag: ep.TrnIdx}, data)
}

// I2CPushRead implements i2c_push_read: emits an unsolicited DONE carrying
// up to 255 bytes of speculative read data at the current transaction index
// (spec §4.4.2).
func I2CPushRead(ep *Endpoint, data []byte, send SendFunc) {
	if len(data) > 255 {
		data = data[:255]
	}
	sendI2CDone(ep, 0, data, send)
}

// I2CReady implements i2c_ready: clears Busy and re-advances the queue.
func I2CReady(ep *Endpoint, send SendFunc) {
	ep.Busy = false
	advanceI2C(ep, send)
}
