package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

func advanceCAN(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.CANCallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}

		switch pkt.Pkt {
		case constants.CanTx:
			fc, err := wire.UnmarshalFrameControl(pkt.Data)
			if err != nil {
				ep.PopHead()
				continue
			}
			data := pkt.Data[16:]

			var result int
			if cb == nil || cb.Tx == nil {
				result = 0
			} else {
				result = cb.Tx(ep.Priv, uint64(fc.Word), fc.ExtWord, data)
			}

			switch result {
			case -1: // stall: defer, retry later
				ep.Busy = true
				return
			case 0: // ack
				ep.PopHead()
				sendCANTxAck(0, send)
			default: // nak
				ep.PopHead()
				sendCANTxAck(1, send)
			}

		case constants.CanRxAck:
			if ep.CANRxPending && pkt.BFlag == uint8(ep.CANPendingID) {
				ep.CANRxPending = false
				nak := pkt.HFlag != 0
				ep.PopHead()
				if cb != nil && cb.RxComplete != nil {
					cb.RxComplete(ep.Priv, nak)
				}
			} else {
				ep.PopHead()
			}

		default:
			ep.PopHead()
		}
	}
}

func sendCANTxAck(hflag uint16, send SendFunc) {
	send(wire.Header{Pkt: constants.CanTxAck, HFlag: hflag}, nil)
}

// CANSend implements can_rx: refuses (returns 1) if a prior RX is still
// outstanding; otherwise increments the transaction index modulo 256, emits
// an RX packet carrying the control words and data (taking ownership by
// copy, per spec §9's fix for the source's use-after-free hazard), and
// marks the endpoint as awaiting RX_ACK. Returns 0 on success.
func CANSend(ep *Endpoint, ctrlWord uint64, extWord uint64, data []byte, send SendFunc) int {
	if ep.CANRxPending {
		return 1
	}
	ep.TrnIdx = (ep.TrnIdx + 1) & 0xFF
	ep.CANPendingID = ep.TrnIdx
	ep.CANRxPending = true

	payload := make([]byte, 16+len(data))
	wire.MarshalFrameControl(payload, wire.FrameControl{Word: wire.ControlWord(ctrlWord), ExtWord: extWord})
	copy(payload[16:], data)

	send(wire.Header{Pkt: constants.CanRx, BFlag: uint8(ep.TrnIdx)}, payload)
	return 0
}

// CANReady implements can_ready: clears Busy and re-advances the queue.
func CANReady(ep *Endpoint, send SendFunc) {
	ep.Busy = false
	advanceCAN(ep, send)
}
