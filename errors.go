package vmlink

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind categorizes failures per spec §7.
type ErrorKind string

const (
	KindBadTarget       ErrorKind = "bad target"
	KindTransportDown   ErrorKind = "transport down"
	KindQueryBusy       ErrorKind = "query busy"
	KindAttachRejected  ErrorKind = "attach rejected"
	KindAllocFailed     ErrorKind = "allocation failed"
	KindMalformedPacket ErrorKind = "malformed packet"
	KindOversizedPacket ErrorKind = "oversized packet"
)

// Error is the structured error type returned by the public API.
type Error struct {
	Op    string // operation that failed, e.g. "Connect", "AttachUART"
	Conn  uint16 // connection index, 0 if not applicable
	Kind  ErrorKind
	Errno unix.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("vmlink: %s", msg)
	}
	return fmt.Sprintf("vmlink: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// NewError builds a structured error with the given op and kind.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WrapError attaches op/kind context to an existing error.
func WrapError(op string, kind ErrorKind, inner error) *Error {
	if inner == nil {
		return nil
	}
	msg := inner.Error()
	var errno unix.Errno
	if e, ok := inner.(unix.Errno); ok {
		errno = e
	}
	return &Error{Op: op, Kind: kind, Errno: errno, Msg: msg, Inner: inner}
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind == kind
	}
	return false
}

// Errno returns the negative-errno return value for err, per spec §6's
// exit-code convention (zero on success, negative errno-shaped integers on
// transport failure). A carried Errno wins; otherwise TransportDown maps to
// -ECONNRESET, BadTarget to -ENOTCONN, AllocFailed to -ENOMEM, and every
// other kind (or a non-*Error) returns 0.
func Errno(err error) int32 {
	var ve *Error
	if !errors.As(err, &ve) {
		return 0
	}
	if ve.Errno != 0 {
		return -int32(ve.Errno)
	}
	switch ve.Kind {
	case KindTransportDown:
		return -int32(unix.ECONNRESET)
	case KindBadTarget:
		return -int32(unix.ENOTCONN)
	case KindAllocFailed:
		return -int32(unix.ENOMEM)
	default:
		return 0
	}
}
