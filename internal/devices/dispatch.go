package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/wire"
)

// SendFunc builds and enqueues an outbound packet. Implementations fill in
// the connection id (the caller doesn't need to).
type SendFunc func(h wire.Header, payload []byte)

// Advance re-examines an endpoint's pending queue, invoking callbacks until
// the queue empties or a callback stalls (spec §4.4). It is called both
// when a new packet arrives and when a Ready call clears Busy.
func Advance(ep *Endpoint, send SendFunc) {
	if ep.Busy {
		return
	}
	switch ep.Type {
	case constants.UART:
		advanceUART(ep, send)
	case constants.I2C:
		advanceI2C(ep, send)
	case constants.SPI:
		advanceSPI(ep, send)
	case constants.GPIO:
		advanceGPIO(ep, send)
	case constants.USBH:
		advanceUSBH(ep, send)
	case constants.CAN:
		advanceCAN(ep, send)
	}
}
