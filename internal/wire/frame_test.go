package wire

import (
	"testing"

	"github.com/strandlabs/vmlink/internal/constants"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Len: 12, Conn: 7, Pkt: 3, BFlag: 1, HFlag: 0xBEEF}
	buf := make([]byte, 8)
	MarshalHeader(buf, h)

	got, err := UnmarshalHeader(buf)
	if err != nil {
		t.Fatalf("UnmarshalHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("UnmarshalHeader = %+v, want %+v", got, h)
	}
}

func TestUnmarshalHeaderShort(t *testing.T) {
	if _, err := UnmarshalHeader(make([]byte, 4)); err != ErrShort {
		t.Errorf("expected ErrShort, got %v", err)
	}
}

func TestPad4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 8: 8, 9: 12}
	for in, want := range cases {
		if got := Pad4(in); got != want {
			t.Errorf("Pad4(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBuildPadsAndZeroes(t *testing.T) {
	buf := Build(Header{Conn: constants.QueryConn, Pkt: constants.PktReqList}, []byte{0x01, 0x02, 0x03})
	// header(8) + payload(3) = 11, padded to 12
	if len(buf) != 12 {
		t.Fatalf("len(buf) = %d, want 12", len(buf))
	}
	if buf[11] != 0 {
		t.Errorf("pad byte not zeroed: %v", buf)
	}
	h, err := UnmarshalHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Len != 11 {
		t.Errorf("h.Len = %d, want 11 (unpadded)", h.Len)
	}
}
