package wire

import (
	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/transport"
)

// Drain extracts as many complete packets as are currently available from
// the receive ring and calls handle for each, in arrival order (spec §4.2).
// It stops cleanly when fewer than a full packet remains buffered. Oversized
// packets (padded length above constants.MaxPkt) are skipped: their bytes
// are still drained from the ring, but handle is never called for them.
//
// If handle returns an error, Drain stops and returns it without closing or
// otherwise touching the ring further — per spec §4.2, a dispatcher-signalled
// failure breaks the framer loop but does not tear down the connection; the
// next Drain call resumes from the next unconsumed packet.
func Drain(r *transport.Ring, handle func(Packet) error) error {
	hdrBuf := make([]byte, constants.HeaderSize)
	for r.Available() >= constants.HeaderSize {
		r.CopyOut(hdrBuf, 0)
		h, err := UnmarshalHeader(hdrBuf)
		if err != nil {
			// Can't happen given the Available() guard above, but resync by
			// dropping the header rather than looping forever.
			r.Discard(constants.HeaderSize)
			continue
		}

		if h.Len < constants.HeaderSize {
			r.Discard(constants.HeaderSize)
			continue
		}

		dlen := Pad4(int(h.Len))
		if r.Available() < dlen {
			return nil
		}

		if dlen > constants.MaxPkt {
			r.Discard(dlen)
			continue
		}

		payload := make([]byte, int(h.Len)-constants.HeaderSize)
		r.CopyOut(payload, constants.HeaderSize)
		r.Discard(dlen)

		if err := handle(Packet{Header: h, Data: payload}); err != nil {
			return err
		}
	}
	return nil
}
