package pca301

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		Chan:      3,
		Cmd:       CmdSwitch,
		Addr:      [3]byte{0x11, 0x22, 0x33},
		Data:      SwitchOn,
		Cons:      1234,
		ConsTotal: 5678,
	}
	raw := f.Encode()

	got := DecodeFrame(raw)
	if got.Chan != f.Chan || got.Cmd != f.Cmd || got.Addr != f.Addr ||
		got.Data != f.Data || got.Cons != f.Cons || got.ConsTotal != f.ConsTotal {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
	if !CRCValid(raw) {
		t.Fatalf("expected encoded frame to have a valid CRC")
	}
}

func TestCRCValidRejectsCorruption(t *testing.T) {
	f := Frame{Chan: 1, Cmd: CmdPoll, Addr: [3]byte{1, 2, 3}}
	raw := f.Encode()
	raw[5] ^= 0xff // flip the data byte without updating the CRC

	if CRCValid(raw) {
		t.Fatalf("expected corrupted frame to fail CRC check")
	}
}

func TestIsStationEcho(t *testing.T) {
	cases := []struct {
		cons, total uint16
		want        bool
	}{
		{IDStation, IDStation, true},
		{IDStationMonitor, IDStationMonitor, true},
		{IDStation, IDStationMonitor, false},
		{100, 200, false},
	}
	for _, c := range cases {
		if got := isStationEcho(c.cons, c.total); got != c.want {
			t.Fatalf("isStationEcho(%#x, %#x) = %v, want %v", c.cons, c.total, got, c.want)
		}
	}
}
