// Package transport owns the non-blocking TCP socket, the bounded receive
// ring buffer, and the unbounded outbound FIFO described in spec §3 and
// §4.1, built directly on golang.org/x/sys/unix syscalls and manual buffer
// bookkeeping rather than net.Conn and channels.
package transport

// Ring is a fixed-capacity byte ring buffer with monotonic read/write
// pointers, compared modulo the buffer length for available space (spec §3).
type Ring struct {
	buf   []byte
	read  uint64
	write uint64
}

// NewRing allocates a ring buffer of the given capacity in bytes.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]byte, size)}
}

// Available returns the number of unread bytes currently in the ring.
func (r *Ring) Available() int {
	return int(r.write - r.read)
}

// Space returns the number of bytes that can still be written before the
// ring is full.
func (r *Ring) Space() int {
	return len(r.buf) - r.Available()
}

// WriteRegions returns up to two slices spanning the ring's free space, in
// the order they should be filled (e.g. by successive unix.Read calls), to
// let the caller write across the wrap point without an intermediate copy.
func (r *Ring) WriteRegions() (first, second []byte) {
	space := r.Space()
	if space == 0 {
		return nil, nil
	}
	ln := len(r.buf)
	start := int(r.write % uint64(ln))
	end := start + space
	if end <= ln {
		return r.buf[start:end], nil
	}
	return r.buf[start:], r.buf[:end-ln]
}

// Advance records that n bytes were written into the regions returned by the
// most recent WriteRegions call.
func (r *Ring) Advance(n int) {
	r.write += uint64(n)
}

// CopyOut copies len(dst) unread bytes starting offset bytes past the read
// pointer into dst, transparently handling the wrap point. The caller must
// ensure offset+len(dst) <= Available().
func (r *Ring) CopyOut(dst []byte, offset int) {
	ln := len(r.buf)
	start := int((r.read + uint64(offset)) % uint64(ln))
	for i := range dst {
		dst[i] = r.buf[(start+i)%ln]
	}
}

// Discard advances the read pointer by n bytes, marking them consumed.
func (r *Ring) Discard(n int) {
	r.read += uint64(n)
}
