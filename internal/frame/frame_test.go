package frame

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSendReceiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := payload{Name: "hello", Count: 42}

	if err := Send(context.Background(), &buf, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Receive[payload](context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestReceiveRejectsOversizeLengthWithoutReadingBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(MaxFrameSize)+1)
	buf.Write(hdr[:])
	// Write only a few bytes, far short of the declared length: if Receive
	// tried to read the body, it would return an I/O error instead of
	// ok=false.
	buf.WriteString("short")

	_, ok, err := Receive[payload](context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for oversize length")
	}
	if buf.Len() != 5 {
		t.Fatalf("expected body untouched (5 bytes left), got %d", buf.Len())
	}
}

func TestReceiveRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 0)
	buf.Write(hdr[:])

	_, ok, err := Receive[payload](context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for zero length")
	}
}

func TestReceiveEOFIsNotError(t *testing.T) {
	var buf bytes.Buffer
	_, ok, err := Receive[payload](context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false on immediate EOF")
	}
}

func TestBoundedReaderStopsAtLimit(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789"))
	br := newBoundedReader(src, 4)

	got, err := io.ReadAll(br)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123" {
		t.Fatalf("got %q, want %q", got, "0123")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCompressWriter(&buf)
	data := bytes.Repeat([]byte("steamroll"), 1000)

	if _, err := cw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}

	cr, err := NewCompressReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer cr.Close()

	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed data does not match original")
	}
}
