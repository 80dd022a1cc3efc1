package queue

import (
	"sync"

	"github.com/strandlabs/vmlink/internal/constants"
)

// globalPool provides pooled scratch byte slices sized to the maximum
// padded wire packet (constants.MaxPkt). Every packet on this wire is
// capped at MaxPkt (1024 bytes, spec §3), so a single size bucket covers
// every caller. wire.Build allocates each outbound buffer directly and
// does not draw from this pool.
var globalPool = sync.Pool{
	New: func() any { b := make([]byte, constants.MaxPkt); return &b },
}

// GetBuffer returns a pooled buffer of at least the requested size (capped
// at constants.MaxPkt; larger requests allocate directly since no caller in
// this protocol legitimately needs more than MaxPkt bytes).
func GetBuffer(size int) []byte {
	if size > constants.MaxPkt {
		return make([]byte, size)
	}
	buf := *(globalPool.Get().(*[]byte))
	return buf[:size]
}

// PutBuffer returns a buffer to the pool. Buffers not originally sized at
// constants.MaxPkt capacity are simply dropped rather than pooled.
func PutBuffer(buf []byte) {
	if cap(buf) != constants.MaxPkt {
		return
	}
	buf = buf[:constants.MaxPkt]
	globalPool.Put(&buf)
}
