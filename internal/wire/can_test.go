package wire

import "testing"

func TestControlWordBitLayout(t *testing.T) {
	var w ControlWord
	w = w.WithDLC(9)
	w = w.WithID(0x3AA)
	w = w.WithIDE(true)
	w = w.WithRTR(true)
	w = w.WithEID(0x1FFFF)

	if w.DLC() != 9 {
		t.Errorf("DLC() = %d, want 9", w.DLC())
	}
	if w.DataLen() != 12 {
		t.Errorf("DataLen() = %d, want 12 (DLC 9)", w.DataLen())
	}
	if w.ID() != 0x3AA {
		t.Errorf("ID() = %#x, want 0x3AA", w.ID())
	}
	if !w.IDE() || !w.RTR() {
		t.Errorf("IDE/RTR not set: %+v", w)
	}
	if w.EID() != 0x1FFFF {
		t.Errorf("EID() = %#x, want 0x1FFFF", w.EID())
	}
}

func TestDLCTableAllEntries(t *testing.T) {
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
	for i, length := range want {
		w := ControlWord(0).WithDLC(uint8(i))
		if w.DataLen() != length {
			t.Errorf("DLC %d: DataLen() = %d, want %d", i, w.DataLen(), length)
		}
	}
}

func TestFrameControlRoundTrip(t *testing.T) {
	fc := FrameControl{Word: ControlWord(0).WithDLC(3).WithID(42), ExtWord: 0xDEADBEEF}
	buf := make([]byte, 16)
	MarshalFrameControl(buf, fc)

	got, err := UnmarshalFrameControl(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != fc {
		t.Errorf("got %+v, want %+v", got, fc)
	}
}

func TestUnmarshalFrameControlShort(t *testing.T) {
	if _, err := UnmarshalFrameControl(make([]byte, 8)); err != ErrShort {
		t.Errorf("expected ErrShort, got %v", err)
	}
}
