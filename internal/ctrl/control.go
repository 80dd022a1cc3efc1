package ctrl

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/interfaces"
	"github.com/strandlabs/vmlink/internal/wire"
)

// SendFunc enqueues a fully-built wire packet for transmission. Matches the
// shape devices.SendFunc uses, so the dispatcher wires both the same way.
type SendFunc func(h wire.Header, payload []byte)

// Controller drives the query-connection state machine: enumeration,
// attach, and detach (spec §4.3). Only one list or attach query may be
// outstanding at a time; RequestList/RequestConnect return false
// otherwise.
type Controller struct {
	send   SendFunc
	logger interfaces.Logger

	listInProgress bool
	listNextIndex  uint16
	listEntries    []ListEntry
	listDone       bool

	attachPending bool
	attachReq     AttachRequest
	attachResult  AttachResult
	attachDone    bool
}

// NewController constructs a Controller that writes outbound query packets
// via send.
func NewController(send SendFunc, logger interfaces.Logger) *Controller {
	return &Controller{send: send, logger: logger}
}

// Busy reports whether a list or attach query is currently outstanding.
func (c *Controller) Busy() bool {
	return c.listInProgress || c.attachPending
}

// RequestList issues the first REQ_LIST of a fresh enumeration (spec §4.3).
// Returns false if a query is already in flight.
func (c *Controller) RequestList() bool {
	if c.Busy() {
		return false
	}
	c.listInProgress = true
	c.listDone = false
	c.listNextIndex = 0
	c.listEntries = c.listEntries[:0]
	c.sendReqList(0)
	return true
}

func (c *Controller) sendReqList(index uint16) {
	if c.logger != nil {
		c.logger.Debugf("ctrl: REQ_LIST index=%d", index)
	}
	c.send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktReqList, HFlag: index}, nil)
}

// ListDone reports whether the current (or most recent) enumeration has
// finished, and the caller may read ListResult.
func (c *Controller) ListDone() bool {
	return !c.listInProgress && c.listDone
}

// ListResult returns the accumulated entries terminated by InvalidEntry
// (spec §4.3, §8 scenario 1). Valid once ListDone reports true.
func (c *Controller) ListResult() []ListEntry {
	out := make([]ListEntry, len(c.listEntries)+1)
	copy(out, c.listEntries)
	out[len(c.listEntries)] = InvalidEntry
	return out
}

// RequestConnect issues a REQ_CONN for req (spec §4.3). Returns false if a
// query is already in flight.
func (c *Controller) RequestConnect(req AttachRequest) bool {
	if c.Busy() {
		return false
	}
	c.attachPending = true
	c.attachDone = false
	c.attachReq = req
	c.attachResult = AttachResult{}

	rec := wire.ListRecord{Type: req.Type, Num: req.Num, Name: req.Name}
	var payload []byte
	payload = wire.MarshalRecord(payload, rec)
	if c.logger != nil {
		c.logger.Debugf("ctrl: REQ_CONN type=%v name=%s num=%d", req.Type, req.Name, req.Num)
	}
	c.send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktReqConn, HFlag: req.Flags}, payload)
	return true
}

// AttachDone reports whether the most recent attach request has a result.
func (c *Controller) AttachDone() bool {
	return !c.attachPending && c.attachDone
}

// AttachResult returns the decoded result of the most recent attach.
func (c *Controller) AttachResult() AttachResult {
	return c.attachResult
}

// RequestDisconnect issues a REQ_DISC for connID (spec §4.3). No response is
// expected; this is fire-and-forget, matching the wire table.
func (c *Controller) RequestDisconnect(connID uint16) {
	if c.logger != nil {
		c.logger.Debugf("ctrl: REQ_DISC conn=%d", connID)
	}
	c.send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktReqDisc, HFlag: connID}, nil)
}

// HandlePacket processes one inbound packet on the query connection
// (spec §4.3). Called by the dispatcher for every packet whose conn field
// equals constants.QueryConn.
func (c *Controller) HandlePacket(h wire.Header, payload []byte) error {
	switch h.Pkt {
	case constants.PktRspList:
		c.handleRspList(h, payload)
	case constants.PktRspConn:
		c.handleRspConn(h, payload)
	}
	return nil
}

func (c *Controller) handleRspList(h wire.Header, payload []byte) {
	if !c.listInProgress {
		return
	}
	if len(payload) == 0 {
		c.listInProgress = false
		c.listDone = true
		return
	}
	records := wire.UnmarshalRecords(payload)
	for _, r := range records {
		c.listEntries = append(c.listEntries, fromRecord(r))
	}
	c.listNextIndex += uint16(len(records))
	c.sendReqList(c.listNextIndex)
}

func (c *Controller) handleRspConn(h wire.Header, payload []byte) {
	if !c.attachPending {
		return
	}
	ca := wire.UnmarshalConnAssign(h, payload)
	c.attachResult = AttachResult{
		ConnID:  ca.ConnID,
		Credit:  ca.Credit,
		HasInit: ca.HasInit,
		Granted: ca.ConnID != constants.QueryConn,
	}
	c.attachPending = false
	c.attachDone = true
}
