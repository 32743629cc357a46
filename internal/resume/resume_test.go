package resume

import (
	"testing"
	"time"
)

func TestFingerprintOrderIndependent(t *testing.T) {
	a := []ManifestEntry{
		{Path: "b.dat", Size: 10, Hash: "aa"},
		{Path: "a.dat", Size: 20, Hash: "bb"},
	}
	b := []ManifestEntry{
		{Path: "a.dat", Size: 20, Hash: "bb"},
		{Path: "b.dat", Size: 10, Hash: "aa"},
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint should not depend on entry order")
	}
}

func TestFingerprintDiffersOnContentChange(t *testing.T) {
	a := []ManifestEntry{{Path: "a.dat", Size: 20, Hash: "bb"}}
	b := []ManifestEntry{{Path: "a.dat", Size: 21, Hash: "bb"}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("fingerprint should change when size changes")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fp := Fingerprint([]ManifestEntry{{Path: "a.dat", Size: 1, Hash: "x"}})

	s := New("TestGame", 3, 300, fp)
	s.MarkCompleted("a.dat", 100)
	s.MarkCompleted("b.dat", 100)

	if err := s.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected loaded state, got nil")
	}
	if !loaded.Usable(fp) {
		t.Fatal("expected fresh state to be usable")
	}
	if !loaded.IsCompleted("a.dat") || !loaded.IsCompleted("b.dat") {
		t.Fatal("expected both files marked completed")
	}
	if loaded.IsCompleted("c.dat") {
		t.Fatal("c.dat should not be completed")
	}
	if loaded.FilesCompleted != 2 {
		t.Fatalf("expected 2 files completed, got %d", loaded.FilesCompleted)
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatal("expected nil state for missing file")
	}
}

func TestUsableRejectsFingerprintMismatch(t *testing.T) {
	s := New("Game", 1, 10, "fp-a")
	if s.Usable("fp-b") {
		t.Fatal("expected mismatch to reject reuse")
	}
}

func TestUsableRejectsExpiredState(t *testing.T) {
	s := New("Game", 1, 10, "fp")
	s.LastUpdatedAt = time.Now().Add(-25 * time.Hour)
	if s.Usable("fp") {
		t.Fatal("expected expired state to be unusable")
	}
}

func TestDeleteIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	if err := Delete(dir); err != nil {
		t.Fatalf("expected no error deleting missing state file, got %v", err)
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	s := New("Game", 1, 10, "fp")
	s.MarkCompleted("a.dat", 5)
	s.MarkCompleted("a.dat", 5)
	if s.FilesCompleted != 1 {
		t.Fatalf("expected MarkCompleted to be idempotent, got count %d", s.FilesCompleted)
	}
	if s.BytesReceived != 5 {
		t.Fatalf("expected bytes counted once, got %d", s.BytesReceived)
	}
}
