package vmlink

import "github.com/strandlabs/vmlink/internal/constants"

// Re-exported protocol constants for callers that need them without
// reaching into internal packages.
const (
	DefaultPort  = constants.DefaultPort
	TargetEnvVar = constants.TargetEnvVar

	RxRingSize = constants.RxRingSize
	MaxPkt     = constants.MaxPkt
	HeaderSize = constants.HeaderSize
	QueryConn  = constants.QueryConn
)

// DeviceType identifies an endpoint's kind, as returned by List.
type DeviceType = constants.DeviceType

const (
	UART = constants.UART
	I2C  = constants.I2C
	SPI  = constants.SPI
	GPIO = constants.GPIO
	USBH = constants.USBH
	CAN  = constants.CAN
)
