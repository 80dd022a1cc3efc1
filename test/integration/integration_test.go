// Package integration exercises the public vmlink.Client against
// internal/fakevm end to end, covering the literal scenarios used to pin
// down the wire protocol's behavior. Each test drives the client from a
// single goroutine, alternating client.Run calls with fakevm Send/Expect
// calls, matching the single-threaded dispatch model the library assumes;
// only List/AttachXxx (which self-drive internally) run on a background
// goroutine, and only for the duration of that one blocking call.
package integration

import (
	"testing"
	"time"

	"github.com/strandlabs/vmlink"
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/fakevm"
	"github.com/strandlabs/vmlink/internal/wire"
)

const dialTimeout = 2 * time.Second
const pump = 50 * time.Millisecond

func newPair(t *testing.T) (*fakevm.Server, *vmlink.Client) {
	t.Helper()
	srv, err := fakevm.Listen()
	if err != nil {
		t.Fatalf("fakevm.Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	type connResult struct {
		client *vmlink.Client
		err    error
	}
	ch := make(chan connResult, 1)
	go func() {
		c, err := vmlink.Connect(srv.Addr, nil)
		ch <- connResult{c, err}
	}()

	if err := srv.Accept(dialTimeout); err != nil {
		t.Fatalf("fakevm Accept: %v", err)
	}
	res := <-ch
	if res.err != nil {
		t.Fatalf("vmlink.Connect: %v", res.err)
	}
	t.Cleanup(func() { res.client.Disconnect() })
	return srv, res.client
}

// TestListOneEndpoint exercises scenario 1: a single-batch enumeration
// followed by an empty terminating batch.
func TestListOneEndpoint(t *testing.T) {
	srv, client := newPair(t)

	type listResult struct {
		entries []vmlink.Endpoint
		err     error
	}
	ch := make(chan listResult, 1)
	go func() {
		entries, err := client.List(dialTimeout)
		ch <- listResult{entries, err}
	}()

	first, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect first REQ_LIST: %v", err)
	}
	if first.Pkt != constants.PktReqList || first.HFlag != 0 {
		t.Fatalf("unexpected first REQ_LIST: %+v", first.Header)
	}

	var rec []byte
	rec = wire.MarshalRecord(rec, wire.ListRecord{Type: constants.UART, Num: 0, Name: "UART"})
	if err := srv.Send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktRspList, HFlag: 0}, rec); err != nil {
		t.Fatalf("send RSP_LIST batch: %v", err)
	}

	second, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect second REQ_LIST: %v", err)
	}
	if second.Pkt != constants.PktReqList || second.HFlag != 1 {
		t.Fatalf("unexpected second REQ_LIST: %+v", second.Header)
	}
	if err := srv.Send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktRspList, HFlag: 1}, nil); err != nil {
		t.Fatalf("send empty RSP_LIST: %v", err)
	}

	res := <-ch
	if res.err != nil {
		t.Fatalf("List: %v", res.err)
	}
	if len(res.entries) != 1 || res.entries[0].Name != "UART" || res.entries[0].Type != constants.UART {
		t.Fatalf("unexpected list result: %+v", res.entries)
	}
}

// doAttach runs an AttachXxx call on a background goroutine (it blocks
// internally until RSP_CONN arrives) while the calling goroutine plays the
// VM side: consume REQ_CONN, answer with RSP_CONN.
func doAttach[T any](t *testing.T, srv *fakevm.Server, connID uint16, credit uint32, withCredit bool, attach func() (T, error)) T {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := attach()
		ch <- result{v, err}
	}()

	if _, err := srv.Expect(dialTimeout); err != nil {
		t.Fatalf("expect REQ_CONN: %v", err)
	}
	if err := srv.GrantAttach(connID, credit, withCredit); err != nil {
		t.Fatalf("GrantAttach: %v", err)
	}
	res := <-ch
	if res.err != nil {
		t.Fatalf("attach failed: %v", res.err)
	}
	return res.v
}

// TestUARTCreditFlow exercises scenario 2: attach with initial credit,
// send up to the credit, stall on exhaustion, and resume after RX_ACK.
func TestUARTCreditFlow(t *testing.T) {
	srv, client := newPair(t)

	mock := &vmlink.MockUART{}
	ep := doAttach(t, srv, 1, 16, true, func() (vmlink.Endpoint, error) {
		return client.AttachUART("UART", 0, mock.Callbacks(), nil, dialTimeout)
	})

	n, err := client.UARTSend(ep, make([]byte, 16))
	if err != nil || n != 16 {
		t.Fatalf("UARTSend(16) = %d, %v; want 16, nil", n, err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}
	tx, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect TX: %v", err)
	}
	if tx.Pkt != constants.UartRx {
		t.Fatalf("UARTSend wire packet type = %#x, want UartRx (%#x) for host-to-VM data", tx.Pkt, constants.UartRx)
	}

	n, err = client.UARTSend(ep, []byte{0x01})
	if err != nil || n != 0 {
		t.Fatalf("UARTSend after exhaustion = %d, %v; want 0, nil", n, err)
	}

	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.UartRxAck, HFlag: 8}, nil); err != nil {
		t.Fatalf("send RX_ACK: %v", err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mock.RxRdyCalls() != 1 {
		t.Fatalf("RxRdy fired %d times, want 1", mock.RxRdyCalls())
	}

	n, err = client.UARTSend(ep, make([]byte, 32))
	if err != nil || n != 8 {
		t.Fatalf("UARTSend(32) after RX_ACK = %d, %v; want 8, nil", n, err)
	}
}

// TestI2CNakWrite exercises scenario 3: a NAKed write emits exactly one
// DONE with bflag set and does not re-deliver the payload.
func TestI2CNakWrite(t *testing.T) {
	srv, client := newPair(t)

	mock := &vmlink.MockI2C{
		StartFunc: func(priv any) int { return 1 },
		WriteFunc: func(priv any, data []byte) int { return -1 },
	}
	ep := doAttach(t, srv, 1, 0, false, func() (vmlink.Endpoint, error) {
		return client.AttachI2C("I2C0", 0x50, constants.I2CFlagStartAck|constants.I2CFlagWriteAck, mock.Callbacks(), nil, dialTimeout)
	})

	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.I2CStart, BFlag: 1, HFlag: 0}, nil); err != nil {
		t.Fatalf("send START: %v", err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}
	startDone, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect DONE after START: %v", err)
	}
	if startDone.Pkt != constants.I2CDone || startDone.BFlag != 0 {
		t.Fatalf("unexpected DONE after START: %+v", startDone.Header)
	}

	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.I2CWrite, BFlag: 1, HFlag: 0}, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("send WRITE: %v", err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}
	writeDone, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect DONE after WRITE: %v", err)
	}
	if writeDone.Pkt != constants.I2CDone || writeDone.BFlag != 1 {
		t.Fatalf("unexpected DONE after WRITE: %+v", writeDone.Header)
	}
	if mock.WriteCalls() != 1 {
		t.Fatalf("Write callback fired %d times, want 1 (no re-delivery)", mock.WriteCalls())
	}
}

// TestSPIFullDuplex exercises scenario 4: a full-duplex transfer echoes
// the callback's rddata as RX with the same transaction index.
func TestSPIFullDuplex(t *testing.T) {
	srv, client := newPair(t)

	mock := &vmlink.MockSPI{
		XfrFunc: func(priv any, wrdata, rddata []byte) int {
			copy(rddata, []byte{0x10, 0x20, 0x30})
			return len(wrdata)
		},
	}
	ep := doAttach(t, srv, 1, 0, false, func() (vmlink.Endpoint, error) {
		return client.AttachSPI("SPI0", 0, constants.SpiFlagBlock, mock.Callbacks(), nil, dialTimeout)
	})

	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.SpiTx, HFlag: 7}, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("send TX: %v", err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rx, err := srv.Expect(dialTimeout)
	if err != nil {
		t.Fatalf("expect RX: %v", err)
	}
	if rx.Pkt != constants.SpiRx || rx.HFlag != 7 {
		t.Fatalf("unexpected RX header: %+v", rx.Header)
	}
	if string(rx.Data) != string([]byte{0x10, 0x20, 0x30}) {
		t.Fatalf("unexpected RX payload: %v", rx.Data)
	}
}

// TestOversizedPacketDiscarded exercises scenario 6: an over-MaxPkt packet
// is dropped without firing any callback, and framing resumes cleanly
// afterward.
func TestOversizedPacketDiscarded(t *testing.T) {
	srv, client := newPair(t)

	mock := &vmlink.MockGPIO{}
	ep := doAttach(t, srv, 1, 0, false, func() (vmlink.Endpoint, error) {
		return client.AttachGPIO("GPIO0", 3, mock.Callbacks(), nil, dialTimeout)
	})

	oversized := make([]byte, 2000-constants.HeaderSize)
	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.GpioUpdate, HFlag: 1234}, oversized); err != nil {
		t.Fatalf("send oversized packet: %v", err)
	}
	if err := srv.Send(wire.Header{Conn: ep.Conn, Pkt: constants.GpioUpdate, HFlag: 500}, nil); err != nil {
		t.Fatalf("send valid GPIO_UPDATE: %v", err)
	}
	if err := client.Run(pump); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if mock.NotifyCalls() != 1 {
		t.Fatalf("Notify fired %d times, want exactly 1 (oversized packet must not dispatch)", mock.NotifyCalls())
	}
	if mock.LastMillivolts() != 500 {
		t.Fatalf("Notify millivolts = %d, want 500", mock.LastMillivolts())
	}
}
