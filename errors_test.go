package vmlink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Connect", KindBadTarget, "missing host")
	require.Equal(t, "Connect", err.Op)
	require.Equal(t, KindBadTarget, err.Kind)
	require.Equal(t, "vmlink: Connect: missing host", err.Error())
}

func TestErrorWithoutMsgFallsBackToKind(t *testing.T) {
	err := NewError("", KindQueryBusy, "")
	require.Equal(t, "vmlink: query busy", err.Error())
}

func TestWrapError(t *testing.T) {
	inner := unix.ECONNRESET
	err := WrapError("Run", KindTransportDown, inner)

	require.Equal(t, KindTransportDown, err.Kind)
	require.Equal(t, inner, err.Errno)
	require.True(t, errors.Is(err, inner))
}

func TestWrapErrorNil(t *testing.T) {
	require.Nil(t, WrapError("Run", KindTransportDown, nil))
}

func TestIsKind(t *testing.T) {
	err := NewError("List", KindQueryBusy, "a list is already in progress")

	require.True(t, IsKind(err, KindQueryBusy))
	require.False(t, IsKind(err, KindAttachRejected))
	require.False(t, IsKind(nil, KindQueryBusy))
}

func TestErrnoConventions(t *testing.T) {
	cases := []struct {
		err  error
		want int32
	}{
		{nil, 0},
		{NewError("Connect", KindBadTarget, ""), -int32(unix.ENOTCONN)},
		{WrapError("Run", KindTransportDown, unix.ECONNRESET), -int32(unix.ECONNRESET)},
		{NewError("Run", KindTransportDown, ""), -int32(unix.ECONNRESET)},
		{NewError("enqueue", KindAllocFailed, ""), -int32(unix.ENOMEM)},
		{NewError("x", KindMalformedPacket, ""), 0},
	}
	for _, c := range cases {
		if got := Errno(c.err); got != c.want {
			t.Errorf("Errno(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
