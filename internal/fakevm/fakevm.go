// Package fakevm provides an in-process stand-in for the VM side of the
// wire protocol, for integration tests exercising the public client against
// a real TCP socket rather than a socketpair. It is grounded on the same
// transport.Transport/transport.Ring plumbing internal/queue's Dispatcher uses
// for the client side, driven step by step instead of on a select() loop so
// a test can script an exact request/response sequence (spec §8's scripted
// scenarios).
package fakevm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/strandlabs/vmlink/internal/constants"
	"github.com/strandlabs/vmlink/internal/transport"
	"github.com/strandlabs/vmlink/internal/wire"
)

// Server listens on a loopback TCP port and accepts exactly one client
// connection, the way the real VM accepts exactly one host link.
type Server struct {
	listenFD int
	Addr     string

	peer *transport.Transport
}

// Listen opens a non-blocking TCP listener on 127.0.0.1 with an
// OS-assigned port.
func Listen() (*Server, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("fakevm: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: bind: %w", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: set nonblock: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("fakevm: unexpected sockaddr type %T", sa)
	}
	return &Server{
		listenFD: fd,
		Addr:     fmt.Sprintf("127.0.0.1:%d", in4.Port),
	}, nil
}

// Accept blocks (polling with a short sleep, since the listener is
// non-blocking) until a client connects, wrapping the accepted socket in a
// Transport.
func (s *Server) Accept(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		nfd, _, err := unix.Accept(s.listenFD)
		if err == nil {
			if err := unix.SetNonblock(nfd, true); err != nil {
				unix.Close(nfd)
				return fmt.Errorf("fakevm: set nonblock: %w", err)
			}
			if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
				unix.Close(nfd)
				return fmt.Errorf("fakevm: setsockopt TCP_NODELAY: %w", err)
			}
			s.peer = transport.FromFD(nfd)
			return nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return fmt.Errorf("fakevm: accept: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fakevm: accept: timed out after %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Close releases both the listener and the accepted connection, if any.
func (s *Server) Close() error {
	if s.peer != nil {
		s.peer.Close()
	}
	return unix.Close(s.listenFD)
}

// Send marshals and enqueues one packet, then drains the outbound FIFO
// immediately so the call is synchronous from the test's point of view.
func (s *Server) Send(h wire.Header, payload []byte) error {
	s.peer.Enqueue(wire.Build(h, payload))
	return s.drive(50 * time.Millisecond)
}

// Expect blocks until one framed packet arrives or timeout elapses.
func (s *Server) Expect(timeout time.Duration) (wire.Packet, error) {
	deadline := time.Now().Add(timeout)
	var got *wire.Packet
	for got == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Packet{}, fmt.Errorf("fakevm: timed out waiting for a packet")
		}
		if err := s.driveOnce(remaining); err != nil {
			return wire.Packet{}, err
		}
		if err := wire.Drain(s.peer.Rx(), func(p wire.Packet) error {
			if got == nil {
				cp := make([]byte, len(p.Data))
				copy(cp, p.Data)
				got = &wire.Packet{Header: p.Header, Data: cp}
			}
			return nil
		}); err != nil {
			return wire.Packet{}, err
		}
	}
	return *got, nil
}

// drive pumps prepare/select/drive repeatedly until timeout elapses or a
// cycle fails. It does not stop early once the outbound FIFO is flushed:
// it keeps pumping, reading any inbound bytes into the receive ring, for
// the whole timeout.
func (s *Server) drive(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := s.driveOnce(time.Until(deadline)); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return nil
		}
	}
}

func (s *Server) driveOnce(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	var readSet, writeSet unix.FdSet
	maxFD := s.peer.Prepare(-1, &readSet, &writeSet)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if _, err := unix.Select(maxFD+1, &readSet, &writeSet, nil, &tv); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("fakevm: select: %w", err)
	}
	return s.peer.Drive(&readSet, &writeSet)
}

// GrantAttach is a convenience helper answering a pending REQ_CONN with a
// RSP_CONN carrying connID and an optional initial credit (spec §4.3,
// scenario 2's UART attach-with-initial-credit).
func (s *Server) GrantAttach(connID uint16, credit uint32, withCredit bool) error {
	var payload []byte
	if withCredit {
		payload = make([]byte, 4)
		payload[0] = byte(credit)
		payload[1] = byte(credit >> 8)
		payload[2] = byte(credit >> 16)
		payload[3] = byte(credit >> 24)
	}
	return s.Send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktRspConn, HFlag: connID}, payload)
}

// RejectAttach answers a pending REQ_CONN with the 0xFFFF rejection
// sentinel.
func (s *Server) RejectAttach() error {
	return s.Send(wire.Header{Conn: constants.QueryConn, Pkt: constants.PktRspConn, HFlag: constants.QueryConn}, nil)
}
