package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

func advanceSPI(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.SPICallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}

		switch pkt.Pkt {
		case constants.SpiCS:
			asserted := pkt.BFlag&0x01 != 0
			ep.PopHead()
			if cb != nil && cb.CS != nil {
				cb.CS(ep.Priv, asserted)
			}

		case constants.SpiTx:
			ep.TrnIdx = pkt.HFlag
			remaining := pkt.Data[ep.Offset:]
			chunk := remaining
			if len(chunk) > 256 {
				chunk = chunk[:256]
			}
			rdbuf := ep.Scratch[ep.Offset : int(ep.Offset)+len(chunk)]

			var n int
			if cb == nil || cb.Xfr == nil {
				n = len(chunk)
			} else {
				n = cb.Xfr(ep.Priv, chunk, rdbuf)
			}
			if n == interfaces.Stall {
				ep.Busy = true
				return
			}
			ep.Offset += uint32(n)
			if int(ep.Offset) >= len(pkt.Data) {
				rddata := make([]byte, len(pkt.Data))
				copy(rddata, ep.Scratch[:len(pkt.Data)])
				hflag := ep.TrnIdx
				ep.PopHead()
				send(wire.Header{Pkt: constants.SpiRx, HFlag: hflag}, rddata)
			}

		default:
			ep.PopHead()
		}
	}
}

// SPIReady implements spi_ready: clears Busy and re-advances the queue.
func SPIReady(ep *Endpoint, send SendFunc) {
	ep.Busy = false
	advanceSPI(ep, send)
}
