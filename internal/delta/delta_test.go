package delta

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cespare/xxhash/v2"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

func TestDeltaRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	target := make([]byte, 256*1024)
	rng.Read(target)

	// Source shares the first three 64 KiB blocks with target, and has a
	// different final 64 KiB, mirroring the delta-reduction scenario.
	source := make([]byte, len(target))
	copy(source, target[:3*BlockSize])
	tail := source[3*BlockSize:]
	rng.Read(tail)

	sigs, err := GenerateSignatures(bytes.NewReader(target))
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 4 {
		t.Fatalf("expected 4 signatures, got %d", len(sigs))
	}

	d := Calculate(source, sigs)

	matchedBlocks := 0
	for _, ins := range d.Instructions {
		if ins.Kind == CopyFromTarget {
			matchedBlocks++
		}
	}
	if matchedBlocks != 3 {
		t.Fatalf("expected 3 matched blocks, got %d", matchedBlocks)
	}

	out := make([]byte, OutputSize(d))
	if err := Apply(out, byteReaderAt(target), d); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(out, source) {
		t.Fatal("reconstructed file does not match source")
	}

	if xxhash.Sum64(out) != xxhash.Sum64(source) {
		t.Fatal("reconstructed hash mismatch")
	}

	savings := SavingsPercent(d, int64(len(source)))
	if savings < 50 {
		t.Fatalf("expected savings > 50%%, got %.1f%%", savings)
	}
}

func TestDeltaSerializeRoundTrip(t *testing.T) {
	d := &Delta{
		Instructions: []Instruction{
			{Kind: CopyFromTarget, Offset: 0, Length: 65536},
			{Kind: LiteralData, Offset: 0, Length: 12},
			{Kind: CopyFromTarget, Offset: 131072, Length: 65536},
		},
		Literal: []byte("hello world!"),
	}

	buf, err := Serialize(d)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Instructions) != len(d.Instructions) {
		t.Fatalf("instruction count mismatch: got %d want %d", len(got.Instructions), len(d.Instructions))
	}
	for i := range d.Instructions {
		if got.Instructions[i] != d.Instructions[i] {
			t.Fatalf("instruction %d mismatch: got %+v want %+v", i, got.Instructions[i], d.Instructions[i])
		}
	}
	if !bytes.Equal(got.Literal, d.Literal) {
		t.Fatal("literal buffer mismatch")
	}
}

func TestSignatureSerializeRoundTrip(t *testing.T) {
	sigs := []Signature{
		{Offset: 0, Length: 65536, Weak: 111, Strong: 222, Index: 0},
		{Offset: 65536, Length: 32000, Weak: 333, Strong: 444, Index: 1},
	}

	buf := SerializeSignatures(sigs)
	got, err := DeserializeSignatures(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(sigs) {
		t.Fatalf("count mismatch: got %d want %d", len(got), len(sigs))
	}
	for i := range sigs {
		if got[i] != sigs[i] {
			t.Fatalf("signature %d mismatch: got %+v want %+v", i, got[i], sigs[i])
		}
	}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		src, tgt int64
		want     bool
	}{
		{src: 256 * 1024, tgt: 256 * 1024, want: true},
		{src: 100, tgt: 100, want: false},          // too small
		{src: 256 * 1024, tgt: 0, want: false},     // no target
		{src: 256 * 1024, tgt: 900 * 1024, want: false}, // ratio too far apart
		{src: 256 * 1024, tgt: 400 * 1024, want: true},
	}
	for _, c := range cases {
		if got := Eligible(c.src, c.tgt); got != c.want {
			t.Errorf("Eligible(%d, %d) = %v, want %v", c.src, c.tgt, got, c.want)
		}
	}
}
