package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mcbachmann/pca301gw/regreg"
)

func newTestTable() *regreg.Table {
	t := &regreg.Table{}
	t.Add(&regreg.Range{Begin: 0, End: 7, Data: make([]byte, 8)})
	return t
}

func TestReadByteRoundTrip(t *testing.T) {
	table := newTestTable()
	if err := table.Access(&regreg.Access{Addr: 2, Write: true, Buf: []byte{0x7f}, Len: 1}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg read 2"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "2: 0x7f (u: 127, i: 127)\n"
	if out.String() != want {
		t.Fatalf("got %q want %q", out.String(), want)
	}
}

func TestRead16LittleEndian(t *testing.T) {
	table := newTestTable()
	table.Access(&regreg.Access{Addr: 0, Write: true, Buf: []byte{0x34, 0x12}, Len: 2})

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg read16 0"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "0: 0x1234 (u: 4660, i: 4660)\n"
	if out.String() != want {
		t.Fatalf("got %q want %q", out.String(), want)
	}
}

func TestReadCountAdvancesAddress(t *testing.T) {
	table := newTestTable()
	table.Access(&regreg.Access{Addr: 0, Write: true, Buf: []byte{1, 2, 3}, Len: 3})

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg read 0 3"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines want 3: %q", len(lines), out.String())
	}
}

func TestReadStringFlagSuppressesHexLines(t *testing.T) {
	table := newTestTable()
	table.Access(&regreg.Access{Addr: 0, Write: true, Buf: []byte("hi"), Len: 2})

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg read 0 2 s"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.String() != "hi\n" {
		t.Fatalf("got %q want %q", out.String(), "hi\n")
	}
}

func TestReadDeniedOutsideAnyRange(t *testing.T) {
	table := newTestTable()

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg read 100"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.String() != "100: denied\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestWriteSingleBytes(t *testing.T) {
	table := newTestTable()

	var out bytes.Buffer
	if err := Dispatch(table, &out, "reg write 0 10 20 30"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.String() != "" {
		t.Fatalf("expected no output on success, got %q", out.String())
	}

	buf := make([]byte, 3)
	table.Access(&regreg.Access{Addr: 0, Buf: buf, Len: 3})
	want := []byte{10, 20, 30}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, buf[i], want[i])
		}
	}
}

func TestWriteStringArgument(t *testing.T) {
	table := newTestTable()

	if err := Dispatch(table, &bytes.Buffer{}, `reg write 0 "hi"`); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	buf := make([]byte, 2)
	table.Access(&regreg.Access{Addr: 0, Buf: buf, Len: 2})
	if string(buf) != "hi" {
		t.Fatalf("got %q want %q", string(buf), "hi")
	}
}

func TestUnknownCommandIsAnError(t *testing.T) {
	table := newTestTable()
	if err := Dispatch(table, &bytes.Buffer{}, "frobnicate"); err == nil {
		t.Fatalf("expected an error for an unknown command")
	}
}
