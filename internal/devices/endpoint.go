// Package devices implements the per-connection device state machines and
// the connection-id-indexed registry of spec §3, §4.4, §9: one state
// machine per attached peripheral endpoint, held in a vector plus a
// separate free list rather than a fixed array.
package devices

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/wire"
)

// scratchSize is the fixed per-endpoint scratch read buffer size (spec §3:
// "fixed-size, type-dependent, >= 512 bytes"). A single size suffices across
// device types here; USB host IN transfers cap at it explicitly (spec §4.4.5).
const scratchSize = 512

// Endpoint is one attached (or pending-attach) device endpoint (spec §3).
type Endpoint struct {
	Conn uint16
	Type constants.DeviceType
	Name string
	Num  uint32

	Priv      any
	Callbacks any // one of interfaces.{UART,I2C,SPI,GPIO,USBH,CAN}Callbacks

	TrnIdx  uint16
	Credit  uint32
	Busy    bool
	ExtBusy uint64
	Offset  uint32

	Pending []wire.Packet
	Scratch [scratchSize]byte

	// CAN-specific: whether an outbound RX is awaiting RX_ACK, and the
	// transaction index it is pending on.
	CANRxPending bool
	CANPendingID uint16
}

// NewEndpoint constructs a pending-attach endpoint (conn not yet assigned).
func NewEndpoint(typ constants.DeviceType, name string, num uint32, callbacks any, priv any) *Endpoint {
	return &Endpoint{
		Conn:      constants.QueryConn,
		Type:      typ,
		Name:      name,
		Num:       num,
		Callbacks: callbacks,
		Priv:      priv,
	}
}

// Enqueue appends a received packet copy to the pending queue (spec §3).
func (e *Endpoint) Enqueue(p wire.Packet) {
	e.Pending = append(e.Pending, p)
}

// Head returns the packet at the front of the pending queue, or false if
// empty.
func (e *Endpoint) Head() (wire.Packet, bool) {
	if len(e.Pending) == 0 {
		return wire.Packet{}, false
	}
	return e.Pending[0], true
}

// PopHead discards the packet at the front of the queue and resets the
// partial-consumption offset.
func (e *Endpoint) PopHead() {
	if len(e.Pending) == 0 {
		return
	}
	e.Pending = e.Pending[1:]
	e.Offset = 0
}

// ResetQueuePointer is used by USB RESET handling (spec §4.4.5): it does not
// discard the queue, just re-marks it for re-examination from the head.
func (e *Endpoint) ResetQueuePointer() {
	e.Offset = 0
}
