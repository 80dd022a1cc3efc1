// Package vmlink is a host-side client library for the VM peripheral link
// protocol: a single framed TCP connection multiplexing emulated UART, I2C,
// SPI, GPIO, USB host, and CAN endpoints between a host process and a VM
// model (spec §1-§9).
package vmlink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/ctrl"
	"github.com/strandlabs/vmlink/internal/devices"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/logging"
	"github.com/strandlabs/vmlink/internal/queue"
	"github.com/strandlabs/vmlink/internal/transport"
	"github.com/strandlabs/vmlink/internal/wire"
)

// Logger is the diagnostic sink Client writes through; *logging.Logger
// satisfies it, and so does any type with matching Debugf/Infof methods.
type Logger = interfaces.Logger

// Endpoint identifies one attached device endpoint, as returned by the
// AttachXxx family and accepted by Detach.
type Endpoint struct {
	Conn uint16
	Type DeviceType
	Name string
}

// Client owns one VM link connection: the transport, the device registry,
// the control-plane state machine, and the single dispatcher loop that
// drives all three (spec §4.5).
type Client struct {
	mu sync.Mutex

	t          *transport.Transport
	registry   *devices.Registry
	ctrl       *ctrl.Controller
	dispatcher *queue.Dispatcher
	logger     Logger
	metrics    *Metrics
}

// Options configures Connect.
type Options struct {
	// Logger receives debug/info diagnostics; nil disables logging.
	Logger Logger

	// Metrics, if non-nil, is wired as the dispatcher's decode-error
	// observer and returned from Client.Metrics.
	Metrics *Metrics
}

// Connect dials target ("host[:port]"; port defaults to DefaultPort) and
// returns a ready-to-drive Client. An empty target falls back to the
// COREMODEL_VM environment variable (spec §6).
func Connect(target string, opts *Options) (*Client, error) {
	if target == "" {
		target = os.Getenv(constants.TargetEnvVar)
	}
	if target == "" {
		return nil, NewError("Connect", KindBadTarget, "no target given and COREMODEL_VM is unset")
	}
	if opts == nil {
		opts = &Options{}
	}

	t, err := transport.Dial(target)
	if err != nil {
		return nil, WrapError("Connect", KindTransportDown, err)
	}

	registry := devices.NewRegistry()

	var logger Logger = opts.Logger
	c := &Client{
		t:        t,
		registry: registry,
		logger:   logger,
		metrics:  opts.Metrics,
	}

	c.ctrl = ctrl.NewController(c.sendQuery, logger)
	c.dispatcher = queue.NewDispatcher(t, registry, c.ctrl, logger)
	if opts.Metrics != nil {
		c.dispatcher.SetObserver(NewMetricsObserver(opts.Metrics))
	}

	if logger != nil {
		logger.Infof("vmlink: connected to %s", target)
	}
	return c, nil
}

func (c *Client) sendQuery(h wire.Header, payload []byte) {
	c.dispatcher.Send(h, payload)
}

// Metrics returns the metrics instance wired at Connect, or nil.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Disconnect drops every live endpoint from the local registry and closes
// the underlying socket. No REQ_DISC is sent for the dropped endpoints; the
// VM observes the connection drop instead.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.registry.All() {
		c.registry.Detach(ep.Conn)
	}
	return c.t.Close()
}

// Run drives prepare/select/drive/dispatch cycles until timeout elapses or a
// transport error occurs (spec §4.5's run(usec)). A zero timeout returns
// at once; a negative timeout means no deadline, so Run returns only on an
// error. Callers own the event loop: call Run repeatedly from whatever
// goroutine should own I/O.
func (c *Client) Run(timeout time.Duration) error {
	usec := int64(-1)
	if timeout >= 0 {
		usec = timeout.Microseconds()
	}
	return c.dispatcher.Run(usec)
}

// blockingQuery drives the dispatcher until stop reports true or the
// deadline elapses, used by List and the AttachXxx family to present a
// synchronous call over the single-threaded loop.
func (c *Client) blockingQuery(timeout time.Duration, stop func() bool) error {
	deadline := time.Now().Add(timeout)
	for !stop() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return NewError("", KindTransportDown, "query timed out")
		}
		if err := c.dispatcher.RunUntil(remaining.Microseconds(), stop); err != nil {
			return WrapError("", KindTransportDown, err)
		}
	}
	return nil
}

// List enumerates every device endpoint the VM currently exposes
// (spec §4.3, §8 scenario 1).
func (c *Client) List(timeout time.Duration) ([]Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ctrl.RequestList() {
		if c.metrics != nil {
			c.metrics.RecordQueryBusyReject()
		}
		return nil, NewError("List", KindQueryBusy, "a list or attach query is already in flight")
	}
	if err := c.blockingQuery(timeout, c.ctrl.ListDone); err != nil {
		return nil, WrapError("List", KindTransportDown, err)
	}

	entries := c.ctrl.ListResult()
	out := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		if e.Type == constants.Invalid {
			break
		}
		out = append(out, Endpoint{Type: e.Type, Name: e.Name})
	}
	return out, nil
}

// attach runs the common REQ_CONN sequence: register a pending endpoint,
// issue the request, wait for RSP_CONN, and promote or discard it.
func (c *Client) attach(op string, typ DeviceType, name string, num uint32, flags uint16, callbacks any, priv any, timeout time.Duration) (*devices.Endpoint, error) {
	if c.registry.PendingAttach() != nil {
		return nil, NewError(op, KindQueryBusy, "an attach is already in flight")
	}

	ep := devices.NewEndpoint(typ, name, num, callbacks, priv)
	c.registry.BeginAttach(ep)

	req := ctrl.AttachRequest{Type: typ, Name: name, Num: num, Flags: flags}
	if !c.ctrl.RequestConnect(req) {
		c.registry.RejectAttach()
		if c.metrics != nil {
			c.metrics.RecordQueryBusyReject()
		}
		return nil, NewError(op, KindQueryBusy, "a list or attach query is already in flight")
	}

	if err := c.blockingQuery(timeout, c.ctrl.AttachDone); err != nil {
		c.registry.RejectAttach()
		return nil, WrapError(op, KindTransportDown, err)
	}

	result := c.ctrl.AttachResult()
	if !result.Granted {
		c.registry.RejectAttach()
		if c.metrics != nil {
			c.metrics.RecordAttachReject()
		}
		return nil, NewError(op, KindAttachRejected, fmt.Sprintf("VM rejected attach of %s %q", typ, name))
	}

	live := c.registry.CompleteAttach(result.ConnID)
	if result.HasInit {
		live.Credit = result.Credit
	}
	if c.metrics != nil {
		c.metrics.RecordConnections(uint32(c.registry.Count()))
	}
	return live, nil
}

// AttachUART attaches to the named UART endpoint reported by List.
func (c *Client) AttachUART(name string, num uint32, callbacks *interfaces.UARTCallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachUART", constants.UART, name, num, 0, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// AttachI2C attaches to the named I2C endpoint. flags combines
// constants.I2CFlagStartAck / constants.I2CFlagWriteAck.
func (c *Client) AttachI2C(name string, addr uint32, flags uint16, callbacks *interfaces.I2CCallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachI2C", constants.I2C, name, addr, flags, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// AttachSPI attaches to the named SPI endpoint. flags may carry
// constants.SpiFlagBlock.
func (c *Client) AttachSPI(name string, cs uint32, flags uint16, callbacks *interfaces.SPICallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachSPI", constants.SPI, name, cs, flags, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// AttachGPIO attaches to the named GPIO pin.
func (c *Client) AttachGPIO(name string, pin uint32, callbacks *interfaces.GPIOCallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachGPIO", constants.GPIO, name, pin, 0, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// AttachUSBH attaches to the named USB host port. speed is one of the
// constants.UsbSpeedXxx values.
func (c *Client) AttachUSBH(name string, port uint32, speed uint16, callbacks *interfaces.USBHCallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachUSBH", constants.USBH, name, port, speed, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// AttachCAN attaches to the named CAN bus endpoint.
func (c *Client) AttachCAN(name string, num uint32, callbacks *interfaces.CANCallbacks, priv any, timeout time.Duration) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := c.attach("AttachCAN", constants.CAN, name, num, 0, callbacks, priv, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Conn: ep.Conn, Type: ep.Type, Name: ep.Name}, nil
}

// Detach issues REQ_DISC for ep and removes it from the local registry.
// The VM sends no response; the local state is dropped immediately
// (spec §4.3).
func (c *Client) Detach(ep Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctrl.RequestDisconnect(ep.Conn)
	c.registry.Detach(ep.Conn)
	return nil
}

func (c *Client) deviceSend(conn uint16) devices.SendFunc {
	return func(h wire.Header, payload []byte) {
		h.Conn = conn
		c.dispatcher.Send(h, payload)
	}
}

func (c *Client) endpointFor(op string, ep Endpoint) (*devices.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live, ok := c.registry.Get(ep.Conn)
	if !ok {
		return nil, NewError(op, KindTransportDown, "endpoint is not attached")
	}
	return live, nil
}

// UARTSend pushes outbound UART bytes, returning the number of bytes the VM
// accepted (spec §4.4.1); a short count means the endpoint ran out of
// credit, which RX_ACK replenishes (RxRdy fires when credit leaves zero).
func (c *Client) UARTSend(ep Endpoint, data []byte) (int, error) {
	live, err := c.endpointFor("UARTSend", ep)
	if err != nil {
		return 0, err
	}
	n := devices.UartSend(live, data, c.deviceSend(ep.Conn))
	if n == 0 && c.metrics != nil {
		c.metrics.RecordCreditStall()
	}
	return n, nil
}

// UARTTxReady notifies the UART endpoint that the application can accept
// more inbound bytes, re-driving any queued VM-to-host TX data (spec
// §4.4.1).
func (c *Client) UARTTxReady(ep Endpoint) error {
	live, err := c.endpointFor("UARTTxReady", ep)
	if err != nil {
		return err
	}
	devices.UartTxRdy(live, c.deviceSend(ep.Conn))
	return nil
}

// I2CPushRead emits an unsolicited DONE carrying up to 255 bytes of read
// data at the endpoint's current transaction index (spec §4.4.2).
func (c *Client) I2CPushRead(ep Endpoint, data []byte) error {
	live, err := c.endpointFor("I2CPushRead", ep)
	if err != nil {
		return err
	}
	devices.I2CPushRead(live, data, c.deviceSend(ep.Conn))
	return nil
}

// I2CReady re-drives a stalled I2C transaction after the application's
// Start/Write callback previously returned Stall (spec §4.4.2).
func (c *Client) I2CReady(ep Endpoint) error {
	live, err := c.endpointFor("I2CReady", ep)
	if err != nil {
		return err
	}
	devices.I2CReady(live, c.deviceSend(ep.Conn))
	return nil
}

// SPIReady re-drives a stalled full-duplex SPI transfer (spec §4.4.3).
func (c *Client) SPIReady(ep Endpoint) error {
	live, err := c.endpointFor("SPIReady", ep)
	if err != nil {
		return err
	}
	devices.SPIReady(live, c.deviceSend(ep.Conn))
	return nil
}

// GPIOSet reports the application's current pin drive state to the VM
// (spec §4.4.4).
func (c *Client) GPIOSet(ep Endpoint, driven bool, millivolts int16) error {
	live, err := c.endpointFor("GPIOSet", ep)
	if err != nil {
		return err
	}
	devices.GPIOSet(live, driven, millivolts, c.deviceSend(ep.Conn))
	return nil
}

// USBHReady re-drives a NAKed USB transfer on (ep,tkn) after the
// application becomes able to service it (spec §4.4.5).
func (c *Client) USBHReady(ep Endpoint, epNum, tkn uint8) error {
	live, err := c.endpointFor("USBHReady", ep)
	if err != nil {
		return err
	}
	devices.USBHReady(live, epNum, tkn, c.deviceSend(ep.Conn))
	return nil
}

// CANSend emits a CAN frame as an RX event to the VM, returning 0 on
// success or 1 if a previous RX is still awaiting RX_ACK (spec §4.4.6).
func (c *Client) CANSend(ep Endpoint, ctrlWord uint64, extWord uint64, data []byte) (int, error) {
	live, err := c.endpointFor("CANSend", ep)
	if err != nil {
		return 0, err
	}
	return devices.CANSend(live, ctrlWord, extWord, data, c.deviceSend(ep.Conn)), nil
}

// CANReady re-drives a stalled outbound CAN TX acknowledgement
// (spec §4.4.6).
func (c *Client) CANReady(ep Endpoint) error {
	live, err := c.endpointFor("CANReady", ep)
	if err != nil {
		return err
	}
	devices.CANReady(live, c.deviceSend(ep.Conn))
	return nil
}

// DefaultLogger returns the package's default logger.
func DefaultLogger() Logger {
	return logging.Default()
}
