package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

func advanceGPIO(ep *Endpoint, send SendFunc) {
	cb, _ := ep.Callbacks.(*interfaces.GPIOCallbacks)

	for {
		if ep.Busy {
			return
		}
		pkt, ok := ep.Head()
		if !ok {
			return
		}

		switch pkt.Pkt {
		case constants.GpioUpdate:
			mv := int16(pkt.HFlag)
			ep.PopHead()
			if cb != nil && cb.Notify != nil {
				cb.Notify(ep.Priv, mv)
			}
		default:
			ep.PopHead()
		}
	}
}

// GPIOSet implements gpio_set: sends FORCE with bflag[0] = driver-enabled
// and hflag = millivolt level. Uses the corrected FORCE wire constant
// (constants.GpioForce); the reference implementation emits the wrong
// packet type here.
func GPIOSet(ep *Endpoint, driven bool, millivolts int16, send SendFunc) {
	var bflag uint8
	if driven {
		bflag = 0x01
	}
	send(wire.Header{Pkt: constants.GpioForce, BFlag: bflag, HFlag: uint16(millivolts)}, nil)
}
