package wire

import "testing"

func TestManifestTotalSize(t *testing.T) {
	m := Manifest{
		{Path: "a.bin", Size: 100},
		{Path: "b.bin", Size: 250},
	}
	if got := m.TotalSize(); got != 350 {
		t.Fatalf("got %d, want 350", got)
	}
}

func TestACKIsSkipped(t *testing.T) {
	a := ACK{Skipped: []string{"a.bin", "sub/b.bin"}}
	if !a.IsSkipped("a.bin") {
		t.Fatal("expected a.bin to be skipped")
	}
	if a.IsSkipped("c.bin") {
		t.Fatal("did not expect c.bin to be skipped")
	}
}

func TestACKHasDeltaSignatures(t *testing.T) {
	a := ACK{DeltaSignatures: map[string][]byte{"save.dat": {1, 2, 3}}}
	b, ok := a.HasDeltaSignatures("save.dat")
	if !ok || len(b) != 3 {
		t.Fatalf("expected delta signatures for save.dat, got %v ok=%v", b, ok)
	}
	if _, ok := a.HasDeltaSignatures("missing.dat"); ok {
		t.Fatal("did not expect signatures for missing.dat")
	}
}
