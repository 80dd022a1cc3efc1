package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

func advanceUART(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.UARTCallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}

		switch pkt.Pkt {
		case constants.UartTx:
			data := pkt.Data[ep.Offset:]
			var n int
			if cb == nil || cb.Tx == nil {
				n = len(data)
			} else {
				n = cb.Tx(ep.Priv, data)
			}
			if n <= 0 {
				ep.Busy = true
				return
			}
			ep.Offset += uint32(n)
			if int(ep.Offset) >= len(pkt.Data) {
				ep.PopHead()
			}

		case constants.UartRxAck:
			wasZero := ep.Credit == 0
			ep.Credit += uint32(pkt.HFlag)
			ep.PopHead()
			if wasZero && cb != nil && cb.RxRdy != nil {
				cb.RxRdy(ep.Priv)
			}

		case constants.UartBrk:
			ep.PopHead()
			if cb != nil && cb.Brk != nil {
				cb.Brk(ep.Priv)
			}

		default:
			ep.PopHead()
		}
	}
}

// UartSend implements uart_rx: transmits up to min(len(data), credit) bytes
// as an RX packet (constants.UartRx, host-to-VM data), decrementing credit,
// and returns the count sent (spec
// §4.4.1). A zero return with a non-empty data means the endpoint has no
// credit left.
func UartSend(ep *Endpoint, data []byte, send SendFunc) int {
	n := len(data)
	if uint32(n) > ep.Credit {
		n = int(ep.Credit)
	}
	if n == 0 {
		return 0
	}
	send(wire.Header{Pkt: constants.UartRx}, data[:n])
	ep.Credit -= uint32(n)
	return n
}

// UartTxRdy implements uart_txrdy: clears Busy and re-advances the queue.
func UartTxRdy(ep *Endpoint, send SendFunc) {
	ep.Busy = false
	advanceUART(ep, send)
}
