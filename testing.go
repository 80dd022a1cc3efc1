package vmlink

import (
	"sync"

	"github.com/strandlabs/vmlink/internal/interfaces"
)

// MockUART is a call-tracking UART callback set for testing AttachUART
// consumers without a real VM (spec §4.4.1).
type MockUART struct {
	mu sync.Mutex

	TxFunc    func(priv any, data []byte) int
	RxRdyFunc func(priv any)
	BrkFunc   func(priv any)

	txCalls    int
	rxRdyCalls int
	brkCalls   int
	lastTxData []byte
}

// Callbacks returns an interfaces.UARTCallbacks wired to this mock's
// tracking wrappers.
func (m *MockUART) Callbacks() *interfaces.UARTCallbacks {
	return &interfaces.UARTCallbacks{
		Tx: func(priv any, data []byte) int {
			m.mu.Lock()
			m.txCalls++
			m.lastTxData = append([]byte(nil), data...)
			m.mu.Unlock()
			if m.TxFunc != nil {
				return m.TxFunc(priv, data)
			}
			return len(data)
		},
		RxRdy: func(priv any) {
			m.mu.Lock()
			m.rxRdyCalls++
			m.mu.Unlock()
			if m.RxRdyFunc != nil {
				m.RxRdyFunc(priv)
			}
		},
		Brk: func(priv any) {
			m.mu.Lock()
			m.brkCalls++
			m.mu.Unlock()
			if m.BrkFunc != nil {
				m.BrkFunc(priv)
			}
		},
	}
}

// TxCalls returns the number of times Tx fired.
func (m *MockUART) TxCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

// LastTxData returns a copy of the most recent Tx payload.
func (m *MockUART) LastTxData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.lastTxData...)
}

// RxRdyCalls returns the number of times RxRdy fired.
func (m *MockUART) RxRdyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxRdyCalls
}

// MockI2C is a call-tracking I2C callback set (spec §4.4.2).
type MockI2C struct {
	mu sync.Mutex

	StartFunc func(priv any) int
	WriteFunc func(priv any, data []byte) int
	ReadFunc  func(priv any, scratch []byte) int
	StopFunc  func(priv any)

	startCalls int
	writeCalls int
	readCalls  int
	stopCalls  int
}

// Callbacks returns an interfaces.I2CCallbacks wired to this mock.
func (m *MockI2C) Callbacks() *interfaces.I2CCallbacks {
	return &interfaces.I2CCallbacks{
		Start: func(priv any) int {
			m.mu.Lock()
			m.startCalls++
			m.mu.Unlock()
			if m.StartFunc != nil {
				return m.StartFunc(priv)
			}
			return 1
		},
		Write: func(priv any, data []byte) int {
			m.mu.Lock()
			m.writeCalls++
			m.mu.Unlock()
			if m.WriteFunc != nil {
				return m.WriteFunc(priv, data)
			}
			return 1
		},
		Read: func(priv any, scratch []byte) int {
			m.mu.Lock()
			m.readCalls++
			m.mu.Unlock()
			if m.ReadFunc != nil {
				return m.ReadFunc(priv, scratch)
			}
			return 0
		},
		Stop: func(priv any) {
			m.mu.Lock()
			m.stopCalls++
			m.mu.Unlock()
			if m.StopFunc != nil {
				m.StopFunc(priv)
			}
		},
	}
}

// StartCalls returns the number of times Start fired.
func (m *MockI2C) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

// StopCalls returns the number of times Stop fired.
func (m *MockI2C) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// WriteCalls returns the number of times Write fired.
func (m *MockI2C) WriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// ReadCalls returns the number of times Read fired.
func (m *MockI2C) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// MockSPI is a call-tracking SPI callback set (spec §4.4.3).
type MockSPI struct {
	mu sync.Mutex

	CSFunc  func(priv any, asserted bool)
	XfrFunc func(priv any, wrdata, rddata []byte) int

	csCalls  int
	xfrCalls int
}

// Callbacks returns an interfaces.SPICallbacks wired to this mock.
func (m *MockSPI) Callbacks() *interfaces.SPICallbacks {
	return &interfaces.SPICallbacks{
		CS: func(priv any, asserted bool) {
			m.mu.Lock()
			m.csCalls++
			m.mu.Unlock()
			if m.CSFunc != nil {
				m.CSFunc(priv, asserted)
			}
		},
		Xfr: func(priv any, wrdata, rddata []byte) int {
			m.mu.Lock()
			m.xfrCalls++
			m.mu.Unlock()
			if m.XfrFunc != nil {
				return m.XfrFunc(priv, wrdata, rddata)
			}
			return len(wrdata)
		},
	}
}

// XfrCalls returns the number of times Xfr fired.
func (m *MockSPI) XfrCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.xfrCalls
}

// MockGPIO is a call-tracking GPIO callback set (spec §4.4.4).
type MockGPIO struct {
	mu sync.Mutex

	NotifyFunc func(priv any, millivolts int16)

	notifyCalls int
	lastMv      int16
}

// Callbacks returns an interfaces.GPIOCallbacks wired to this mock.
func (m *MockGPIO) Callbacks() *interfaces.GPIOCallbacks {
	return &interfaces.GPIOCallbacks{
		Notify: func(priv any, millivolts int16) {
			m.mu.Lock()
			m.notifyCalls++
			m.lastMv = millivolts
			m.mu.Unlock()
			if m.NotifyFunc != nil {
				m.NotifyFunc(priv, millivolts)
			}
		},
	}
}

// NotifyCalls returns the number of times Notify fired.
func (m *MockGPIO) NotifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifyCalls
}

// LastMillivolts returns the most recent Notify argument.
func (m *MockGPIO) LastMillivolts() int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMv
}

// MockUSBH is a call-tracking USB host callback set (spec §4.4.5).
type MockUSBH struct {
	mu sync.Mutex

	ResetFunc func(priv any)
	XfrFunc   func(priv any, dev, ep, tkn uint8, buf []byte, end bool) int

	resetCalls int
	xfrCalls   int
}

// Callbacks returns an interfaces.USBHCallbacks wired to this mock.
func (m *MockUSBH) Callbacks() *interfaces.USBHCallbacks {
	return &interfaces.USBHCallbacks{
		Reset: func(priv any) {
			m.mu.Lock()
			m.resetCalls++
			m.mu.Unlock()
			if m.ResetFunc != nil {
				m.ResetFunc(priv)
			}
		},
		Xfr: func(priv any, dev, ep, tkn uint8, buf []byte, end bool) int {
			m.mu.Lock()
			m.xfrCalls++
			m.mu.Unlock()
			if m.XfrFunc != nil {
				return m.XfrFunc(priv, dev, ep, tkn, buf, end)
			}
			return len(buf)
		},
	}
}

// ResetCalls returns the number of times Reset fired.
func (m *MockUSBH) ResetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCalls
}

// XfrCalls returns the number of times Xfr fired.
func (m *MockUSBH) XfrCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.xfrCalls
}

// MockCAN is a call-tracking CAN callback set (spec §4.4.6).
type MockCAN struct {
	mu sync.Mutex

	TxFunc         func(priv any, ctrlWord, extWord uint64, data []byte) int
	RxCompleteFunc func(priv any, nak bool)

	txCalls         int
	rxCompleteCalls int
}

// Callbacks returns an interfaces.CANCallbacks wired to this mock.
func (m *MockCAN) Callbacks() *interfaces.CANCallbacks {
	return &interfaces.CANCallbacks{
		Tx: func(priv any, ctrlWord, extWord uint64, data []byte) int {
			m.mu.Lock()
			m.txCalls++
			m.mu.Unlock()
			if m.TxFunc != nil {
				return m.TxFunc(priv, ctrlWord, extWord, data)
			}
			return 0
		},
		RxComplete: func(priv any, nak bool) {
			m.mu.Lock()
			m.rxCompleteCalls++
			m.mu.Unlock()
			if m.RxCompleteFunc != nil {
				m.RxCompleteFunc(priv, nak)
			}
		},
	}
}

// TxCalls returns the number of times Tx fired.
func (m *MockCAN) TxCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

// RxCompleteCalls returns the number of times RxComplete fired.
func (m *MockCAN) RxCompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxCompleteCalls
}
