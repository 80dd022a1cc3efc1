// Package ctrl implements the query-connection control plane (spec §4.3):
// endpoint enumeration (REQ_LIST/RSP_LIST), attach (REQ_CONN/RSP_CONN), and
// detach (REQ_DISC) — a small request/response state machine layered over
// one reserved channel, the query connection (conn=0xFFFF).
package ctrl

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/wire"
)

// ListEntry is one enumerated or attached endpoint, terminated in a
// returned slice by a sentinel entry with Type == constants.Invalid
// (spec §4.3, §8 scenario 1).
type ListEntry struct {
	Type constants.DeviceType
	Num  uint32
	Name string
}

// InvalidEntry is the list-termination sentinel.
var InvalidEntry = ListEntry{Type: constants.Invalid}

func fromRecord(r wire.ListRecord) ListEntry {
	return ListEntry{Type: r.Type, Num: r.Num, Name: r.Name}
}

// AttachRequest describes the endpoint an application wants to attach,
// carried as the REQ_CONN payload (spec §4.3).
type AttachRequest struct {
	Type  constants.DeviceType
	Name  string
	Num   uint32
	Flags uint16 // per-type attach flags (spec §6)
}

// AttachResult is the decoded RSP_CONN outcome.
type AttachResult struct {
	ConnID  uint16
	Credit  uint32
	HasInit bool
	Granted bool
}
