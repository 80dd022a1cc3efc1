package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/strandlabs/vmlink/internal/constants"
)

// ErrReset is returned by Drive when the peer closed the connection (a zero
// byte read, or — per spec §4.1, "matches source behavior" — a zero byte
// non-blocking write).
var ErrReset = errors.New("transport: connection reset")

// Transport owns one non-blocking TCP socket, the bounded receive ring, and
// the unbounded outbound FIFO (spec §3, §4.1).
type Transport struct {
	fd     int
	rx     *Ring
	tx     Fifo
	txFlag bool // latched since the last Prepare; forces a drain attempt
}

// ResolveTarget splits a "host[:port]" string into host and port, defaulting
// the port to constants.DefaultPort when omitted (spec §6).
func ResolveTarget(target string) (host string, port int, err error) {
	if target == "" {
		return "", 0, fmt.Errorf("transport: empty target")
	}
	if idx := strings.LastIndex(target, ":"); idx >= 0 {
		p, perr := strconv.Atoi(target[idx+1:])
		if perr == nil {
			return target[:idx], p, nil
		}
	}
	return target, constants.DefaultPort, nil
}

// Dial resolves target, opens a non-blocking TCP socket, connects, and
// enables TCP_NODELAY (spec §6).
func Dial(target string) (*Transport, error) {
	host, port, err := ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	ips, err := lookupIPv4(host)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	addr := unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ips)

	if err := unix.Connect(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: connect: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: set nonblock: %w", err)
	}

	return &Transport{
		fd: fd,
		rx: NewRing(constants.RxRingSize),
	}, nil
}

// FromFD wraps an already-connected, non-blocking socket descriptor in a
// Transport, bypassing Dial's resolve/socket/connect sequence. Used by
// internal/fakevm and tests to drive the protocol over a socketpair instead
// of a real network connection.
func FromFD(fd int) *Transport {
	return &Transport{fd: fd, rx: NewRing(constants.RxRingSize)}
}

// Close releases the socket.
func (t *Transport) Close() error {
	return unix.Close(t.fd)
}

// FD returns the underlying socket descriptor.
func (t *Transport) FD() int {
	return t.fd
}

// Enqueue appends a fully-built (padded) wire buffer to the outbound FIFO
// and latches the tx flag so Drive attempts to send it even before the next
// select() reports writability (spec §4.1).
func (t *Transport) Enqueue(buf []byte) {
	t.tx.Push(buf)
	t.txFlag = true
}

// Rx exposes the receive ring for the framer.
func (t *Transport) Rx() *Ring {
	return t.rx
}

// Prepare sets the socket's bit in readSet iff the receive ring has space,
// and in writeSet iff the outbound FIFO is non-empty, returning the updated
// maximum descriptor for select() (spec §4.1).
func (t *Transport) Prepare(maxFD int, readSet, writeSet *unix.FdSet) int {
	if t.rx.Space() > 0 {
		fdSet(readSet, t.fd)
	}
	if !t.tx.Empty() {
		fdSet(writeSet, t.fd)
	}
	if t.fd > maxFD {
		maxFD = t.fd
	}
	return maxFD
}

// Drive reads as many bytes as fit into the receive ring when the socket is
// readable, and drains the outbound FIFO when writable or newly non-empty
// since the last Prepare (spec §4.1).
func (t *Transport) Drive(readSet, writeSet *unix.FdSet) error {
	if fdIsSet(readSet, t.fd) {
		if err := t.drainRead(); err != nil {
			return err
		}
	}
	if fdIsSet(writeSet, t.fd) || t.txFlag {
		if err := t.drainWrite(); err != nil {
			return err
		}
	}
	t.txFlag = false
	return nil
}

func (t *Transport) drainRead() error {
	for {
		first, second := t.rx.WriteRegions()
		if len(first) == 0 {
			return nil
		}
		n, err := unix.Read(t.fd, first)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrReset
		}
		t.rx.Advance(n)
		if n == len(first) && second != nil {
			continue
		}
	}
}

func (t *Transport) drainWrite() error {
	for !t.tx.Empty() {
		buf := t.tx.Front()
		n, err := unix.Write(t.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrReset
		}
		t.tx.Advance(n)
	}
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func lookupIPv4(host string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		ok := true
		for i, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil || v < 0 || v > 255 {
				ok = false
				break
			}
			out[i] = byte(v)
		}
		if ok {
			return out, nil
		}
	}
	return resolveHostname(host)
}
