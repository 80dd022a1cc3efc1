// Package queue implements the single-threaded readiness loop and buffer
// pooling (spec §4.5, §5). Dispatcher drives one prepare/select/drive/framer
// cycle, run synchronously from whichever goroutine the caller invokes Run
// or RunUntil from; spec §5 forbids multi-threaded callback dispatch.
package queue

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/ctrl"
	"github.com/strandlabs/vmlink/internal/devices"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/transport"
	"github.com/strandlabs/vmlink/internal/wire"
)

// Observer receives dispatch-level events the caller may want to count.
// Defined structurally here (rather than imported) so the root package's
// Metrics type satisfies it without an import cycle.
type Observer interface {
	ObserveDecodeError()
}

// Dispatcher owns the transport, the device registry, and the control-plane
// state machine, and drives them from one select()-based loop (spec §4.5).
type Dispatcher struct {
	t        *transport.Transport
	registry *devices.Registry
	ctrl     *ctrl.Controller
	logger   interfaces.Logger
	observer Observer
}

// NewDispatcher constructs a Dispatcher over an already-dialed transport.
func NewDispatcher(t *transport.Transport, registry *devices.Registry, c *ctrl.Controller, logger interfaces.Logger) *Dispatcher {
	return &Dispatcher{t: t, registry: registry, ctrl: c, logger: logger}
}

// SetObserver installs a metrics observer (may be nil).
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Send builds a wire packet from h and payload and enqueues it on the
// transport's outbound FIFO. Used directly for query-connection traffic.
func (d *Dispatcher) Send(h wire.Header, payload []byte) {
	d.t.Enqueue(wire.Build(h, payload))
}

// deviceSend returns a devices.SendFunc bound to ep's connection id, so
// device state machines don't need to know about the transport.
func (d *Dispatcher) deviceSend(ep *devices.Endpoint) devices.SendFunc {
	return func(h wire.Header, payload []byte) {
		h.Conn = ep.Conn
		d.t.Enqueue(wire.Build(h, payload))
	}
}

// Registry exposes the device registry for attach/detach bookkeeping.
func (d *Dispatcher) Registry() *devices.Registry {
	return d.registry
}

// Ctrl exposes the control-plane state machine for List/Attach/Disconnect.
func (d *Dispatcher) Ctrl() *ctrl.Controller {
	return d.ctrl
}

// Run blocks for at most usec microseconds (negative means no deadline),
// driving prepare/select/drive/framer until the deadline elapses. This is
// the public, unconditional form of run(usec) (spec §4.5).
func (d *Dispatcher) Run(usec int64) error {
	return d.runUntil(usec, func() bool { return false })
}

// RunUntil blocks until stop reports true or usec microseconds elapse,
// whichever comes first. The control plane uses this to turn List/Attach
// into blocking calls that return once their query completes (spec §4.5).
func (d *Dispatcher) RunUntil(usec int64, stop func() bool) error {
	return d.runUntil(usec, stop)
}

func (d *Dispatcher) runUntil(usec int64, stop func() bool) error {
	hasDeadline := usec >= 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(usec) * time.Microsecond)
	}

	for {
		if stop() {
			return nil
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return nil
		}

		var readSet, writeSet unix.FdSet
		maxFD := d.t.Prepare(-1, &readSet, &writeSet)

		var tv *unix.Timeval
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			t := unix.NsecToTimeval(remaining.Nanoseconds())
			tv = &t
		}

		_, err := unix.Select(maxFD+1, &readSet, &writeSet, nil, tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		if err := d.t.Drive(&readSet, &writeSet); err != nil {
			return err
		}
		if err := wire.Drain(d.t.Rx(), d.handlePacket); err != nil {
			return err
		}
	}
}

// handlePacket routes one framed packet to the control plane or to the
// owning device endpoint (spec §4.2's "hand the packet to the dispatcher").
func (d *Dispatcher) handlePacket(p wire.Packet) error {
	if p.Header.Conn == constants.QueryConn {
		return d.ctrl.HandlePacket(p.Header, p.Data)
	}

	ep, ok := d.registry.Dispatch(p.Header.Conn)
	if !ok {
		if d.observer != nil {
			d.observer.ObserveDecodeError()
		}
		return nil
	}
	ep.Enqueue(p)
	devices.Advance(ep, d.deviceSend(ep))
	return nil
}
