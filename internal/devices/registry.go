package devices

import "github.com/strandlabs/vmlink/internal/constants"

// Registry maps live connection ids to endpoint instances. Per spec §9's
// design note, it is a simple vector indexed by connection id with a
// separate free list, rather than the cyclic doubly-linked FIFO the source
// uses — giving O(1) lookup without a back-pointer trick.
type Registry struct {
	entries []*Endpoint
	free    []uint16

	pending *Endpoint // the one in-flight attach target, if any (spec §4.3)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the live endpoint for conn, if any.
func (r *Registry) Get(conn uint16) (*Endpoint, bool) {
	if int(conn) >= len(r.entries) {
		return nil, false
	}
	ep := r.entries[conn]
	return ep, ep != nil
}

// Count returns the number of live endpoints.
func (r *Registry) Count() int {
	n := 0
	for _, ep := range r.entries {
		if ep != nil {
			n++
		}
	}
	return n
}

// All returns every live endpoint, for disconnect's wholesale detach.
func (r *Registry) All() []*Endpoint {
	out := make([]*Endpoint, 0, r.Count())
	for _, ep := range r.entries {
		if ep != nil {
			out = append(out, ep)
		}
	}
	return out
}

// BeginAttach records ep as the one outstanding attach target. The caller
// must already have verified no query is in progress (spec §4.3).
func (r *Registry) BeginAttach(ep *Endpoint) {
	r.pending = ep
}

// PendingAttach returns the in-flight attach target, if any.
func (r *Registry) PendingAttach() *Endpoint {
	return r.pending
}

// CompleteAttach promotes the pending attach target to a live endpoint at
// the VM-assigned connID, inserting it into the vector (extending it, and
// consuming a free-list slot first when one covers the index). Returns the
// promoted endpoint, or nil if there was no pending attach.
func (r *Registry) CompleteAttach(connID uint16) *Endpoint {
	ep := r.pending
	if ep == nil {
		return nil
	}
	r.pending = nil
	ep.Conn = connID

	if int(connID) >= len(r.entries) {
		grown := make([]*Endpoint, int(connID)+1)
		copy(grown, r.entries)
		r.entries = grown
	}
	r.entries[connID] = ep

	for i, idx := range r.free {
		if idx == connID {
			r.free = append(r.free[:i], r.free[i+1:]...)
			break
		}
	}
	return ep
}

// RejectAttach clears the pending attach target without registering it
// (RSP_CONN carried the 0xFFFF rejection sentinel).
func (r *Registry) RejectAttach() *Endpoint {
	ep := r.pending
	r.pending = nil
	return ep
}

// Detach removes the live endpoint at conn, freeing its slot for reuse
// bookkeeping.
func (r *Registry) Detach(conn uint16) (*Endpoint, bool) {
	if int(conn) >= len(r.entries) || r.entries[conn] == nil {
		return nil, false
	}
	ep := r.entries[conn]
	r.entries[conn] = nil
	r.free = append(r.free, conn)
	return ep, true
}

// Dispatch returns the caller's connection is valid. A nil result (conn ==
// QueryConn, or no endpoint registered) means the packet must be dropped,
// never routed to a state machine (spec §3 invariant).
func (r *Registry) Dispatch(conn uint16) (*Endpoint, bool) {
	if conn == constants.QueryConn {
		return nil, false
	}
	return r.Get(conn)
}
